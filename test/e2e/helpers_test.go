package e2e_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/diary-sync/diary"
	"github.com/alexjbarnes/diary-sync/internal/events"
	"github.com/alexjbarnes/diary-sync/internal/network"
	"github.com/alexjbarnes/diary-sync/internal/state"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

const testToken = "e2e-token"

// call is one mutating request the fake backend accepted.
type call struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeBackend is an in-memory diary API. While down it answers every
// request, health included, with 503.
type fakeBackend struct {
	mu      sync.Mutex
	entries map[string]map[string]any
	nextID  int
	calls   []call
	down    bool
	sockets []*websocket.Conn

	srv *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{entries: make(map[string]map[string]any)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", b.handleHealth)
	mux.HandleFunc("GET /entries", b.handleList)
	mux.HandleFunc("POST /entries", b.handleCreate)
	mux.HandleFunc("PUT /entries/{id}", b.handleUpdate)
	mux.HandleFunc("DELETE /entries/{id}", b.handleDelete)
	mux.HandleFunc("POST /devices/push-token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /notifications", b.handleSocket)

	b.srv = httptest.NewServer(b.guard(mux))
	t.Cleanup(b.srv.Close)

	return b
}

func (b *fakeBackend) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken && r.URL.Path != "/health" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		b.mu.Lock()
		down := b.down
		b.mu.Unlock()
		if down {
			http.Error(w, `{"error":"maintenance"}`, http.StatusServiceUnavailable)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *fakeBackend) record(r *http.Request, body map[string]any) {
	b.calls = append(b.calls, call{Method: r.Method, Path: r.URL.Path, Body: body})
}

func (b *fakeBackend) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte(`{"ok":true}`))
}

func (b *fakeBackend) handleList(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		var err error
		since, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			http.Error(w, `{"error":"bad since"}`, http.StatusBadRequest)
			return
		}
	}

	b.mu.Lock()
	out := make([]map[string]any, 0, len(b.entries))
	for _, e := range b.entries {
		if !since.IsZero() {
			updated, _ := time.Parse(time.RFC3339Nano, fmt.Sprint(e["updatedAt"]))
			if !updated.After(since) {
				continue
			}
		}
		out = append(out, e)
	}
	b.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{"entries": out})
}

func (b *fakeBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"bad json"}`, http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("srv-%d", b.nextID)
	body["id"] = id
	b.entries[id] = body
	b.record(r, body)
	b.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (b *fakeBackend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"bad json"}`, http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.entries[id]
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	for k, v := range body {
		existing[k] = v
	}
	b.record(r, body)
	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	delete(b.entries, id)
	b.record(r, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	b.mu.Lock()
	b.sockets = append(b.sockets, conn)
	b.mu.Unlock()

	// Block until the client goes away.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// notify sends a JSON notification to every connected socket.
func (b *fakeBackend) notify(kind, entryID string) {
	b.mu.Lock()
	sockets := append([]*websocket.Conn(nil), b.sockets...)
	b.mu.Unlock()

	msg := fmt.Sprintf(`{"type":%q,"entryId":%q}`, kind, entryID)
	for _, c := range sockets {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		c.Write(ctx, websocket.MessageText, []byte(msg))
		cancel()
	}
}

func (b *fakeBackend) socketCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sockets)
}

// put stores a server-side entry as another device or the comment
// service would.
func (b *fakeBackend) put(id string, fields map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields["id"] = id
	b.entries[id] = fields
}

func (b *fakeBackend) entry(id string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[id]
}

// callLog returns "METHOD /path" for every accepted mutation.
func (b *fakeBackend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.Method+" "+c.Path)
	}
	return out
}

func (b *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/notifications"
}

// harness wires a real Syncer, store, monitor and bus against the fake
// backend.
type harness struct {
	backend *fakeBackend
	state   *state.State
	bus     *events.Bus
	monitor *network.Monitor
	syncer  *diary.Syncer
	logger  *slog.Logger

	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	backend := newFakeBackend(t)
	logger := slog.New(slog.DiscardHandler)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	httpClient := backend.srv.Client()
	httpClient.Timeout = 2 * time.Second

	// Probe health directly; the interface table of a test container says
	// nothing about a loopback server.
	prober := network.ProberFunc(func(ctx context.Context) network.Status {
		offline := network.Status{Connected: network.Online, Reachable: network.Offline}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend.srv.URL+"/health", nil)
		if err != nil {
			return offline
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return offline
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return offline
		}
		return network.Status{Connected: network.Online, Reachable: network.Online}
	})

	monitor := network.NewMonitor(prober, 20*time.Millisecond, logger)
	t.Cleanup(monitor.Close)

	bus := events.NewBus(logger)
	syncer := diary.NewSyncer(diary.SyncerConfig{
		Backend: diary.NewClient(backend.srv.URL, testToken, httpClient),
		State:   st,
		Bus:     bus,
		Monitor: monitor,
	}, logger)
	t.Cleanup(syncer.StopWatching)

	h := &harness{
		backend: backend,
		state:   st,
		bus:     bus,
		monitor: monitor,
		syncer:  syncer,
		logger:  logger,
	}

	for _, name := range []string{events.DiaryUpdated, events.AICommentReceived} {
		bus.Subscribe(name, func(ev events.Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		})
	}

	return h
}

func (h *harness) eventCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n int
	for _, ev := range h.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (h *harness) resetEvents() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

func today() string {
	return time.Now().Format("2006-01-02")
}
