package lock

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker, name string) {
	t.Helper()
	ctx := context.Background()

	release, err := l.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, name, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	release()

	again, err := l.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	again()
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal(), "run")
}

func TestLocal_IndependentNames(t *testing.T) {
	l := NewLocal()
	r1, err := l.Acquire(context.Background(), "a", 0)
	require.NoError(t, err)
	defer r1()
	r2, err := l.Acquire(context.Background(), "b", 0)
	require.NoError(t, err)
	defer r2()
}

func TestKeepAlive_ExtendsUntilStopped(t *testing.T) {
	stop := make(chan struct{})
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, time.Millisecond, func() (bool, error) {
			if calls.Add(1) == 2 {
				return false, errors.New("connection reset")
			}
			return true, nil
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 5 }, 5*time.Second, time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("keepAlive did not stop")
	}
}

func TestKeepAlive_StopsWhenLockIsLost(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(make(chan struct{}), time.Millisecond, func() (bool, error) {
			calls.Add(1)
			return false, nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("keepAlive kept running after losing the lock")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedis_LockOutlivesTTLWhileHeld(t *testing.T) {
	addr := os.Getenv("ENTRYSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ENTRYSYNC_TEST_REDIS_ADDR not set")
	}
	r, err := NewRedis(context.Background(), addr, "", 0)
	require.NoError(t, err)
	defer r.Close()

	name := "renew-" + time.Now().UTC().Format("150405.000000")
	release, err := r.Acquire(context.Background(), name, 300*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(time.Second)
	_, err = r.Acquire(context.Background(), name, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	again, err := r.Acquire(context.Background(), name, time.Minute)
	require.NoError(t, err)
	again()
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("ENTRYSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ENTRYSYNC_TEST_REDIS_ADDR not set")
	}
	r, err := NewRedis(context.Background(), addr, "", 0)
	require.NoError(t, err)
	defer r.Close()

	exerciseLocker(t, r, "test-"+time.Now().UTC().Format("150405.000000"))
}
