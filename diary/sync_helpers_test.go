package diary

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/diary-sync/internal/events"
	"github.com/alexjbarnes/diary-sync/internal/models"
	"github.com/alexjbarnes/diary-sync/internal/network"
	"github.com/alexjbarnes/diary-sync/internal/state"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var baseTime = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

const today = "2026-10-15"

func testState(t *testing.T) *state.State {
	t.Helper()
	s, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testClock returns baseTime and advances one second per call.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// eventLog records every event published on a bus.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func recordEvents(bus *events.Bus) *eventLog {
	l := &eventLog{}
	for _, name := range []string{events.DiaryUpdated, events.AICommentReceived} {
		bus.Subscribe(name, func(ev events.Event) {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		})
	}
	return l
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	for _, ev := range l.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (l *eventLog) last(name string) events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Name == name {
			return l.events[i]
		}
	}
	return events.Event{}
}

type syncFixture struct {
	syncer  *Syncer
	backend *MockBackend
	state   *state.State
	events  *eventLog
}

func newFixture(t *testing.T, ctrl *gomock.Controller) *syncFixture {
	t.Helper()
	st := testState(t)
	backend := NewMockBackend(ctrl)
	bus := events.NewBus(nil)
	log := recordEvents(bus)

	s := NewSyncer(SyncerConfig{
		Backend: backend,
		State:   st,
		Bus:     bus,
	}, nil)
	clock := &testClock{now: baseTime}
	s.now = clock.Now

	return &syncFixture{syncer: s, backend: backend, state: st, events: log}
}

// seed writes an entry straight into the store without queueing.
func (f *syncFixture) seed(t *testing.T, e models.Entry) {
	t.Helper()
	require.NoError(t, f.state.PutEntry(e))
}

func syncedEntry(id, content string, updated time.Time) models.Entry {
	return models.Entry{
		ID:               id,
		Date:             today,
		Body:             models.Body{Content: content},
		SyncedWithServer: true,
		CreatedAt:        baseTime.Add(-24 * time.Hour),
		UpdatedAt:        updated,
	}
}

func serverEntry(id, content string, updated time.Time) ServerEntry {
	return ServerEntry{
		ID:        id,
		Date:      today,
		Body:      models.Body{Content: content},
		CreatedAt: baseTime.Add(-24 * time.Hour),
		UpdatedAt: updated,
	}
}

func queueTargets(items []models.QueueItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, string(it.Operation)+":"+it.TargetID)
	}
	return out
}

// fakeMonitor lets tests drive network transitions.
type fakeMonitor struct {
	mu     sync.Mutex
	status network.Status
	subs   map[int]func(network.Status)
	nextID int
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{subs: make(map[int]func(network.Status))}
}

func (m *fakeMonitor) Subscribe(fn func(network.Status)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	st := m.status
	m.mu.Unlock()

	fn(st)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *fakeMonitor) set(st network.Status) {
	m.mu.Lock()
	m.status = st
	subs := make([]func(network.Status), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func (m *fakeMonitor) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

var (
	statusOnline  = network.Status{Connected: network.Online, Reachable: network.Online}
	statusOffline = network.Status{Connected: network.Offline, Reachable: network.Offline}
)
