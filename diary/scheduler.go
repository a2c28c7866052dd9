package diary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/diary-sync/internal/network"
)

// syncRunner is the part of Syncer the scheduler drives.
type syncRunner interface {
	SyncWithServer(ctx context.Context) Result
}

// Scheduler coalesces background sync triggers (push notifications,
// network reconnects, periodic foreground ticks) into one SyncWithServer
// per quiet window. Background failures are logged and never surfaced.
type Scheduler struct {
	syncer   syncRunner
	debounce time.Duration
	interval time.Duration
	logger   *slog.Logger

	triggers chan string

	mu      sync.Mutex
	reasons map[string]int
}

// NewScheduler creates a scheduler. A zero interval disables the
// periodic trigger.
func NewScheduler(syncer syncRunner, debounce, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		debounce: debounce,
		interval: interval,
		logger:   orDiscard(logger),
		triggers: make(chan string, 1),
		reasons:  make(map[string]int),
	}
}

// Trigger asks for a sync. It never blocks.
func (s *Scheduler) Trigger(reason string) {
	s.mu.Lock()
	s.reasons[reason]++
	s.mu.Unlock()

	select {
	case s.triggers <- reason:
	default:
	}
}

// WatchNetwork triggers a sync on every transition to online. The
// returned function stops watching.
func (s *Scheduler) WatchNetwork(monitor statusSource) func() {
	var (
		mu        sync.Mutex
		wasOnline bool
	)
	return monitor.Subscribe(func(st network.Status) {
		mu.Lock()
		trigger := st.Online() && !wasOnline
		wasOnline = st.Online()
		mu.Unlock()

		if trigger {
			s.Trigger("network")
		}
	})
}

// Run processes triggers until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.triggers:
			timer.Reset(s.debounce)

		case <-tick:
			s.Trigger("foreground")

		case <-timer.C:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	s.mu.Lock()
	reasons := s.reasons
	s.reasons = make(map[string]int)
	s.mu.Unlock()

	res := s.syncer.SyncWithServer(ctx)
	switch {
	case res.Skipped:
		// The running sync may have fetched before these triggers arrived.
		s.logger.Debug("background sync skipped, retrying after debounce")
		if s.debounce > 0 {
			s.Trigger("retry")
		}
	case !res.Success:
		s.logger.Warn("background sync failed",
			slog.Any("triggers", reasons),
			slog.Any("error", res.Err),
		)
	default:
		s.logger.Debug("background sync done",
			slog.Any("triggers", reasons),
			slog.Int("comments", len(res.CommentIDs)),
		)
	}
}
