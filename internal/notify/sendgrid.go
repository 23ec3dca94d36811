package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cleared-dev/entrysync/internal/logging"
)

// SendGridConfig configures the SendGrid mail client.
type SendGridConfig struct {
	APIKey     string
	BaseURL    string
	From       string
	FromName   string
	To         []string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// SendGrid mails failures through the SendGrid v3 API with the payload attached.
type SendGrid struct {
	log        *logging.Logger
	cfg        SendGridConfig
	httpClient *http.Client
}

func NewSendGrid(log *logging.Logger, cfg SendGridConfig) (*SendGrid, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if strings.TrimSpace(cfg.From) == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("sendgrid: from and to addresses required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &SendGrid{
		log:        log.With("client", "SendGrid"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
	Attachments      []attachment      `json:"attachments,omitempty"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type attachment struct {
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	Filename    string `json:"filename"`
	Disposition string `json:"disposition,omitempty"`
}

// HTTPError is a non-2xx response from SendGrid.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 4000 {
		msg = msg[:4000] + "..."
	}
	return fmt.Sprintf("sendgrid http %d: %s", e.StatusCode, msg)
}

func (s *SendGrid) NotifyFailure(ctx context.Context, f Failure) error {
	to := make([]emailAddress, 0, len(s.cfg.To))
	for _, addr := range s.cfg.To {
		to = append(to, emailAddress{Email: strings.TrimSpace(addr)})
	}
	req := mailSendRequest{
		Personalizations: []personalization{{To: to}},
		From:             emailAddress{Email: s.cfg.From, Name: s.cfg.FromName},
		Subject:          f.Subject(),
		Content:          []mailContent{{Type: "text/plain", Value: f.Body()}},
	}
	if len(f.Payload) > 0 && f.FileName != "" {
		req.Attachments = []attachment{{
			Content:     base64.StdEncoding.EncodeToString(f.Payload),
			Type:        "application/octet-stream",
			Filename:    f.FileName,
			Disposition: "attachment",
		}}
	}
	return s.do(ctx, "/v3/mail/send", req)
}

func (s *SendGrid) do(ctx context.Context, path string, body any) error {
	backoff := s.cfg.Backoff
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.doOnce(ctx, path, body)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= s.cfg.MaxRetries {
			return err
		}

		s.log.Warn("SendGrid request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", s.cfg.MaxRetries,
			"sleep", backoff.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *SendGrid) doOnce(ctx context.Context, path string, body any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return readErr
}

func retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
