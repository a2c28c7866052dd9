package diary

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSyncer struct {
	calls  atomic.Int32
	result Result
}

func (c *countingSyncer) SyncWithServer(context.Context) Result {
	c.calls.Add(1)
	return c.result
}

func runScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestScheduler_CoalescesBurst(t *testing.T) {
	syncer := &countingSyncer{result: Result{Success: true}}
	s := NewScheduler(syncer, 50*time.Millisecond, 0, quietLogger)
	runScheduler(t, s)

	for i := 0; i < 10; i++ {
		s.Trigger("push")
	}

	assert.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestScheduler_SeparateWindowsRunSeparately(t *testing.T) {
	syncer := &countingSyncer{result: Result{Success: true}}
	s := NewScheduler(syncer, 20*time.Millisecond, 0, quietLogger)
	runScheduler(t, s)

	s.Trigger("push")
	assert.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Trigger("push")
	assert.Eventually(t, func() bool { return syncer.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_PeriodicForegroundTick(t *testing.T) {
	syncer := &countingSyncer{result: Result{Success: true}}
	s := NewScheduler(syncer, time.Millisecond, 20*time.Millisecond, quietLogger)
	runScheduler(t, s)

	assert.Eventually(t, func() bool { return syncer.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_FailureIsSwallowed(t *testing.T) {
	syncer := &countingSyncer{result: Result{Err: networkErr()}}
	s := NewScheduler(syncer, time.Millisecond, 0, quietLogger)
	runScheduler(t, s)

	s.Trigger("push")
	assert.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_SkippedRetries(t *testing.T) {
	syncer := &countingSyncer{result: Result{Skipped: true}}
	s := NewScheduler(syncer, 10*time.Millisecond, 0, quietLogger)
	runScheduler(t, s)

	s.Trigger("push")
	assert.Eventually(t, func() bool { return syncer.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_WatchNetworkTriggersOnReconnect(t *testing.T) {
	syncer := &countingSyncer{result: Result{Success: true}}
	s := NewScheduler(syncer, time.Millisecond, 0, quietLogger)
	runScheduler(t, s)

	mon := newFakeMonitor()
	stop := s.WatchNetwork(mon)
	defer stop()

	mon.set(statusOffline)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), syncer.calls.Load())

	mon.set(statusOnline)
	assert.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_NilLogger(t *testing.T) {
	syncer := &countingSyncer{result: Result{Err: networkErr()}}
	s := NewScheduler(syncer, time.Millisecond, 0, nil)
	runScheduler(t, s)

	s.Trigger("push")
	assert.Eventually(t, func() bool { return syncer.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
}
