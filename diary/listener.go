package diary

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	reconnectMin = 1 * time.Second
	reconnectMax = 60 * time.Second
	pingEvery    = 30 * time.Second
	pingTimeout  = 10 * time.Second
	readLimit    = 64 << 10

	// stableAfter is how long a connection must stay up before the
	// reconnect backoff resets.
	stableAfter = 30 * time.Second
)

// Notification types that mean server data may have changed.
const (
	notifyEntryChanged = "entry_changed"
	notifyAIComment    = "ai_comment"
)

// Listener holds a WebSocket to the backend's notification endpoint and
// turns change notifications into sync triggers. It does not interpret
// payloads beyond their type; the sync that follows fetches the data.
type Listener struct {
	url     string
	token   string
	trigger func(reason string)
	logger  *slog.Logger

	// dial is replaced in tests.
	dial func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)
}

// NewListener creates a listener that calls trigger for every change
// notification and once after each successful (re)connect, since
// notifications sent while disconnected are lost.
func NewListener(wsURL, token string, trigger func(reason string), logger *slog.Logger) *Listener {
	return &Listener{
		url:     wsURL,
		token:   token,
		trigger: trigger,
		logger:  orDiscard(logger),
		dial:    websocket.Dial,
	}
}

// Listen connects and reads notifications until ctx is cancelled,
// reconnecting with exponential backoff and jitter.
func (l *Listener) Listen(ctx context.Context) error {
	backoff := reconnectMin

	for {
		started := time.Now()
		err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(started) > stableAfter {
			backoff = reconnectMin
		}

		l.logger.Warn("notification socket lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff)/2 + 1))
		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, reconnectMax)
	}
}

// session runs one connection until it fails.
func (l *Listener) session(ctx context.Context) error {
	header := http.Header{}
	if l.token != "" {
		header.Set("Authorization", "Bearer "+l.token)
	}

	conn, _, err := l.dial(ctx, l.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dialing %s: %w", l.url, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	l.logger.Info("notification socket connected", slog.String("url", l.url))
	l.trigger("reconnect")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.heartbeat(connCtx, conn)

	for {
		typ, data, err := conn.Read(connCtx)
		if err != nil {
			return fmt.Errorf("reading notification: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		l.handle(data)
	}
}

func (l *Listener) handle(data []byte) {
	if !gjson.ValidBytes(data) {
		l.logger.Debug("ignoring malformed notification")
		return
	}

	kind := gjson.GetBytes(data, "type").String()
	switch kind {
	case notifyEntryChanged, notifyAIComment:
		l.logger.Debug("change notification",
			slog.String("type", kind),
			slog.String("entry", gjson.GetBytes(data, "entryId").String()),
		)
		l.trigger(kind)
	default:
		l.logger.Debug("ignoring notification", slog.String("type", kind))
	}
}

// heartbeat pings the server and closes the connection when a pong does
// not come back, which unblocks the reader.
func (l *Listener) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				l.logger.Warn("notification socket ping failed", slog.String("error", err.Error()))
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
