package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cleared-dev/entrysync/internal/logging"
)

func testFailure() Failure {
	return Failure{
		Partner:  "ACME BILLING",
		EntityID: "42",
		FileName: "ACME_CA_B3_12345678901_20250115103000_1.dat",
		Payload:  []byte("H00001...\r\n"),
		Err:      errors.New("connection refused"),
	}
}

func newSendGrid(t *testing.T, url string, retries int) *SendGrid {
	t.Helper()
	sg, err := NewSendGrid(logging.Nop(), SendGridConfig{
		APIKey:     "key",
		BaseURL:    url,
		From:       "entrysync@example.com",
		To:         []string{"ops@example.com"},
		MaxRetries: retries,
		Backoff:    time.Millisecond,
	})
	require.NoError(t, err)
	return sg
}

func TestSendGrid_AttachesPayload(t *testing.T) {
	var got mailSendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f := testFailure()
	require.NoError(t, newSendGrid(t, srv.URL, 0).NotifyFailure(context.Background(), f))

	assert.Equal(t, "Bearer key", auth)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "ops@example.com", got.Personalizations[0].To[0].Email)
	assert.Contains(t, got.Subject, "ACME BILLING")
	assert.Contains(t, got.Content[0].Value, "connection refused")
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, f.FileName, got.Attachments[0].Filename)
	decoded, err := base64.StdEncoding.DecodeString(got.Attachments[0].Content)
	require.NoError(t, err)
	assert.Equal(t, f.Payload, decoded)
}

func TestSendGrid_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, newSendGrid(t, srv.URL, 4).NotifyFailure(context.Background(), testFailure()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendGrid_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad from"}]}`))
	}))
	defer srv.Close()

	err := newSendGrid(t, srv.URL, 4).NotifyFailure(context.Background(), testFailure())
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewSendGrid_RequiresKey(t *testing.T) {
	_, err := NewSendGrid(logging.Nop(), SendGridConfig{From: "a@b", To: []string{"c@d"}})
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	n := LogNotifier{Log: logging.FromCore(core)}

	require.NoError(t, n.NotifyFailure(context.Background(), testFailure()))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Contains(t, entry.Message, "ACME BILLING")
	assert.Equal(t, "42", entry.ContextMap()["entity_id"])
}
