package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanupManager_RunOnceContinuesAfterFailure(t *testing.T) {
	var ran atomic.Int32
	cm := NewCleanupManager([]Task{
		{Name: "failing", Run: func(ctx context.Context) (int, error) {
			ran.Add(1)
			return 0, errors.New("store unavailable")
		}},
		{Name: "ok", Run: func(ctx context.Context) (int, error) {
			ran.Add(1)
			return 2, nil
		}},
	}, discardLogger(), time.Hour)

	cm.RunOnce(context.Background())
	assert.EqualValues(t, 2, ran.Load())
}

func TestCleanupManager_StartRunsImmediatelyAndStopWaits(t *testing.T) {
	var ran atomic.Int32
	started := make(chan struct{}, 1)
	cm := NewCleanupManager([]Task{
		{Name: "count", Run: func(ctx context.Context) (int, error) {
			ran.Add(1)
			select {
			case started <- struct{}{}:
			default:
			}
			return 0, nil
		}},
	}, discardLogger(), time.Hour)

	cm.Start(context.Background())
	cm.Start(context.Background())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run on start")
	}

	cm.Stop()
	cm.Stop()
	after := ran.Load()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ran.Load(), "no task runs after Stop returns")
	assert.EqualValues(t, 1, after)
}

func TestCleanupManager_TicksRepeatedly(t *testing.T) {
	var ran atomic.Int32
	cm := NewCleanupManager([]Task{
		{Name: "count", Run: func(ctx context.Context) (int, error) {
			ran.Add(1)
			return 1, nil
		}},
	}, discardLogger(), 10*time.Millisecond)

	cm.Start(context.Background())
	assert.Eventually(t, func() bool { return ran.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cm.Stop()
}

func TestCleanupManager_StopWithoutStart(t *testing.T) {
	cm := NewCleanupManager(nil, discardLogger(), time.Hour)
	done := make(chan struct{})
	go func() {
		cm.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}

func TestCleanupManager_ContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cm := NewCleanupManager(nil, discardLogger(), time.Hour)
	cm.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		cm.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after context cancel")
	}
}

func TestCleanupManager_NonPositiveIntervalFallsBack(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Minute} {
		var runs atomic.Int32
		cm := NewCleanupManager([]Task{{Name: "count", Run: func(ctx context.Context) (int, error) {
			runs.Add(1)
			return 0, nil
		}}}, discardLogger(), interval)
		assert.Equal(t, DefaultInterval, cm.interval)

		ctx, cancel := context.WithCancel(context.Background())
		assert.NotPanics(t, func() { cm.Start(ctx) })
		assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		cm.Stop()
	}
}
