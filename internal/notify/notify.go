// Package notify tells operators about files that could not be delivered.
package notify

import (
	"context"
	"fmt"

	"github.com/cleared-dev/entrysync/internal/logging"
)

// Failure describes an undelivered file. Payload is the encoded file so an
// operator can deliver it by hand.
type Failure struct {
	Partner  string
	EntityID string
	FileName string
	Payload  []byte
	Err      error
}

// Subject is the one-line summary used for mail subjects and logs.
func (f Failure) Subject() string {
	return fmt.Sprintf("entrysync: delivery to %s failed for entry %s", f.Partner, f.EntityID)
}

// Body is the plain text message body.
func (f Failure) Body() string {
	reason := "unknown error"
	if f.Err != nil {
		reason = f.Err.Error()
	}
	return fmt.Sprintf(
		"The file %s for entry %s could not be delivered to %s.\n\nError: %s\n\n"+
			"The file is attached. The entry will be retried on the next run.\n",
		f.FileName, f.EntityID, f.Partner, reason)
}

// Notifier reports delivery failures.
type Notifier interface {
	NotifyFailure(ctx context.Context, f Failure) error
}

// LogNotifier only logs failures. It is the default for local setups.
type LogNotifier struct {
	Log *logging.Logger
}

func (n LogNotifier) NotifyFailure(_ context.Context, f Failure) error {
	n.Log.Error(f.Subject(),
		"partner", f.Partner,
		"entity_id", f.EntityID,
		"file", f.FileName,
		"bytes", len(f.Payload),
		"error", f.Err,
	)
	return nil
}
