package network

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Connectivity is a tri-state signal. Unknown means no probe has
// completed yet.
type Connectivity int

const (
	Unknown Connectivity = iota
	Offline
	Online
)

func (c Connectivity) String() string {
	switch c {
	case Offline:
		return "offline"
	case Online:
		return "online"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the device's network state.
//
// Connected reports whether any non-loopback interface is up with an
// address. It drives the offline banner. Reachable reports whether the
// backend actually answered, and is the signal that gates syncing.
type Status struct {
	Connected Connectivity
	Reachable Connectivity
}

// Online reports whether the backend is reachable.
func (s Status) Online() bool {
	return s.Reachable == Online
}

// Prober takes one measurement of the current network state.
type Prober interface {
	Probe(ctx context.Context) Status
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) Status

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) Status {
	return f(ctx)
}

// Monitor polls a Prober and notifies subscribers of changes. Polling
// runs only while at least one subscriber is registered.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *slog.Logger

	// notifyMu orders deliveries: a subscriber sees its snapshot before
	// any later change, and changes in the order they were recorded.
	// Taken before mu.
	notifyMu sync.Mutex

	mu      sync.Mutex
	status  Status
	subs    map[int64]func(Status)
	nextID  int64
	stopPol context.CancelFunc
}

// NewMonitor creates a monitor that probes every interval while it has
// subscribers.
func NewMonitor(prober Prober, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
		subs:     make(map[int64]func(Status)),
	}
}

// Status returns the last observed state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn and immediately delivers the current snapshot to
// it. fn is then called on every change until the returned function is
// called. The returned function is idempotent. The first subscriber starts
// the poller and the last one to leave stops it. fn must not call
// Subscribe or Refresh.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.notifyMu.Lock()
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	snapshot := m.status
	var pollCtx context.Context
	if m.stopPol == nil {
		pollCtx, m.stopPol = context.WithCancel(context.Background())
	}
	m.mu.Unlock()

	fn(snapshot)
	m.notifyMu.Unlock()

	if pollCtx != nil {
		go m.poll(pollCtx)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(id) })
	}
}

// Refresh probes immediately, notifies subscribers if the state changed,
// and returns the fresh state.
func (m *Monitor) Refresh(ctx context.Context) Status {
	st := m.prober.Probe(ctx)
	m.update(st)
	return st
}

// Close stops polling and drops every subscriber.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = make(map[int64]func(Status))
	if m.stopPol != nil {
		m.stopPol()
		m.stopPol = nil
	}
}

func (m *Monitor) unsubscribe(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	if len(m.subs) == 0 && m.stopPol != nil {
		m.stopPol()
		m.stopPol = nil
		m.logger.Debug("network poller stopped")
	}
}

func (m *Monitor) poll(ctx context.Context) {
	m.logger.Debug("network poller started", slog.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		st := m.prober.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		m.update(st)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) update(st Status) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if st == m.status {
		m.mu.Unlock()
		return
	}
	prev := m.status
	m.status = st
	subs := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("network state changed",
		slog.String("connected", st.Connected.String()),
		slog.String("reachable", st.Reachable.String()),
		slog.String("was_reachable", prev.Reachable.String()),
	)

	for _, fn := range subs {
		fn(st)
	}
}
