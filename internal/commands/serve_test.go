package commands

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cleared-dev/entrysync/internal/lock"
	"github.com/cleared-dev/entrysync/internal/logging"
	"github.com/cleared-dev/entrysync/internal/pipeline"
)

type countingRunner struct {
	calls  atomic.Int32
	err    error
	cancel context.CancelFunc
	stopAt int32
}

func (r *countingRunner) Run(ctx context.Context) (*pipeline.Result, error) {
	if r.calls.Add(1) >= r.stopAt {
		r.cancel()
	}
	return &pipeline.Result{}, r.err
}

func TestSchedule_RunsImmediatelyThenOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &countingRunner{cancel: cancel, stopAt: 3}

	done := make(chan struct{})
	go func() {
		schedule(ctx, logging.Nop(), r, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, r.calls.Load(), int32(3))
}

func TestSchedule_LockedRunIsNotAnError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &countingRunner{cancel: cancel, stopAt: 1, err: lock.ErrLocked}

	schedule(ctx, logging.FromCore(core), r, time.Hour)

	assert.Equal(t, 1, logs.FilterMessageSnippet("another run holds the lock").Len())
	assert.Equal(t, 0, logs.FilterLevelExact(zap.ErrorLevel).Len())
}
