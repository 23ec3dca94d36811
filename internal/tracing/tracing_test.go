package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/entrysync/internal/logging"
)

func TestSetup_Disabled(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), logging.Nop(), Config{})
	require.NoError(t, err)

	_, span := Tracer(tp).Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_ExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	tp, shutdown, err := Setup(context.Background(), logging.Nop(), Config{
		Enabled:     true,
		ServiceName: "entrysync-test",
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := Tracer(tp).Start(context.Background(), "pipeline.run")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "pipeline.run")
	assert.Contains(t, buf.String(), "entrysync-test")
}

func TestTracer_NilProvider(t *testing.T) {
	assert.NotNil(t, Tracer(nil))
}
