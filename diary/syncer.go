package diary

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/diary-sync/internal/events"
	"github.com/alexjbarnes/diary-sync/internal/models"
	"github.com/alexjbarnes/diary-sync/internal/network"
	"github.com/alexjbarnes/diary-sync/internal/state"
)

// statusSource is the subset of network.Monitor the queue watcher needs.
type statusSource interface {
	Subscribe(fn func(network.Status)) func()
}

// SyncerConfig holds the collaborators of a Syncer.
type SyncerConfig struct {
	Backend Backend
	State   *state.State
	Bus     *events.Bus
	Monitor statusSource

	// FullSync fetches every server entry on each pass instead of only
	// those changed since the last successful sync.
	FullSync bool
}

// Syncer owns the upload queue and the reconciliation of local entries
// with the server.
//
// ProcessQueue and SyncWithServer share one single-flight guard. A call
// that finds the guard held returns at once with Skipped set and never
// touches the store. Local edits (SaveEntry, DeleteEntry) do not take the
// guard; each one is a single store transaction, and the drain re-reads
// the queue front from the store for every item so it always sees them.
type Syncer struct {
	backend  Backend
	state    *state.State
	bus      *events.Bus
	monitor  statusSource
	logger   *slog.Logger
	fullSync bool
	now      func() time.Time

	guard sync.Mutex

	watchMu sync.Mutex
	unwatch func()
}

// NewSyncer creates a Syncer. A nil Bus is replaced with a private one.
func NewSyncer(cfg SyncerConfig, logger *slog.Logger) *Syncer {
	logger = orDiscard(logger)
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Syncer{
		backend:  cfg.Backend,
		state:    cfg.State,
		bus:      bus,
		monitor:  cfg.Monitor,
		logger:   logger,
		fullSync: cfg.FullSync,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Bus returns the event bus the syncer publishes on.
func (s *Syncer) Bus() *events.Bus {
	return s.bus
}

// State returns the local store.
func (s *Syncer) State() *state.State {
	return s.state
}

func (s *Syncer) publish(name string, ids ...string) {
	s.bus.Publish(events.Event{
		Name:      name,
		EntryIDs:  ids,
		Timestamp: s.now(),
	})
}

// Entries returns every local entry ordered by date.
func (s *Syncer) Entries() []models.Entry {
	return s.state.AllEntries()
}

// EntryByDate returns the local entry for a calendar date, or nil.
func (s *Syncer) EntryByDate(date string) *models.Entry {
	return s.state.EntryByDate(date)
}

// orDiscard returns logger, or a logger that drops everything when nil.
func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
