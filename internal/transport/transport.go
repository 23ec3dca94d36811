// Package transport delivers encoded files to a partner mailbox.
package transport

import (
	"context"
	"fmt"
	"time"
)

// File is an outbound payload.
type File struct {
	Name        string
	Data        []byte
	ContentType string
}

// Receipt identifies a delivered file on the partner side.
type Receipt struct {
	Reference string
	Location  string
}

// Mailbox accepts files for a partner. Send either delivers the whole
// file or returns an error.
type Mailbox interface {
	Send(ctx context.Context, f File) (Receipt, error)
}

// MailboxFunc adapts a function to Mailbox.
type MailboxFunc func(ctx context.Context, f File) (Receipt, error)

func (fn MailboxFunc) Send(ctx context.Context, f File) (Receipt, error) { return fn(ctx, f) }

type timeoutMailbox struct {
	next    Mailbox
	timeout time.Duration
}

// WithTimeout bounds every Send on next by d.
func WithTimeout(next Mailbox, d time.Duration) Mailbox {
	if d <= 0 {
		return next
	}
	return &timeoutMailbox{next: next, timeout: d}
}

func (m *timeoutMailbox) Send(ctx context.Context, f File) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		r   Receipt
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := m.next.Send(ctx, f)
		done <- result{r, err}
	}()

	select {
	case res := <-done:
		return res.r, res.err
	case <-ctx.Done():
		return Receipt{}, fmt.Errorf("sending %s: %w", f.Name, ctx.Err())
	}
}
