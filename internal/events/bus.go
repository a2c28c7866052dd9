package events

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DiaryUpdated fires after every local mutation and every successful
	// sync with the server.
	DiaryUpdated = "DIARY_UPDATED"

	// AICommentReceived fires once per sync that pulled at least one new or
	// changed AI comment.
	AICommentReceived = "AI_COMMENT_RECEIVED"
)

// Event is a notification delivered to UI observers.
type Event struct {
	Name      string
	EntryIDs  []string
	Timestamp time.Time
}

// Handler receives published events on the publisher's goroutine.
type Handler func(Event)

// Bus is an in-process publish/subscribe hub keyed by event name.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]Handler
	nextID      int64
	logger      *slog.Logger
}

// NewBus creates an empty bus. A nil logger discards handler panics
// silently.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		subscribers: make(map[string]map[int64]Handler),
		logger:      logger,
	}
}

// Subscribe registers handler for events named name and returns a function
// that removes it. Calling the returned function more than once is safe.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	if name == "" || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if _, ok := b.subscribers[name]; !ok {
		b.subscribers[name] = make(map[int64]Handler)
	}
	b.subscribers[name][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(name, id) })
	}
}

// Publish delivers ev synchronously to every handler registered for its
// name at the time of the call, in subscription order. Events with no
// listeners are dropped. A panicking handler is logged and does not stop
// delivery to the others.
func (b *Bus) Publish(ev Event) {
	if ev.Name == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subscribers := b.subscribers[ev.Name]
	if len(subscribers) == 0 {
		b.mu.RUnlock()
		return
	}
	ids := make([]int64, 0, len(subscribers))
	for id := range subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, subscribers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

// SubscriberCount returns how many handlers are registered for name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[name])
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event", ev.Name),
				slog.Any("panic", r),
			)
		}
	}()
	h(ev)
}

func (b *Bus) unsubscribe(name string, id int64) {
	b.mu.Lock()
	subscribers := b.subscribers[name]
	if subscribers != nil {
		delete(subscribers, id)
		if len(subscribers) == 0 {
			delete(b.subscribers, name)
		}
	}
	b.mu.Unlock()
}
