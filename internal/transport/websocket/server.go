// Package websocket streams replication events to operators.
//
// Clients open a WebSocket connection to:
//
//	GET /replication/feed[?target=<prefix>][&types=failed,dropped]
//
// Every event the dispatchers report is pushed as one JSON text frame:
//
//	{"type":"delivered","id":"<ULID>","command":{"kind":"push_task","target":"orders-slave-0","payload":"..."},"at":"..."}
//
// The feed is lossy. Observe must never block a lane, so a subscriber that
// falls behind loses frames; Hub.Dropped counts them.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/replq/internal/command"
	"github.com/snehjoshi/replq/internal/replication"
)

const (
	// subscriberBuffer is how many frames may queue for one slow client.
	subscriberBuffer = 256
	writeWait        = 5 * time.Second
	pingPeriod       = 30 * time.Second
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin upgrade requests. Requests without an
	// Origin header (native clients, curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Frame is the JSON structure sent to clients.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Command command.Command `json:"command"`
	Error   string          `json:"error,omitempty"`
	At      time.Time       `json:"at"`
}

type subscriber struct {
	ch     chan []byte
	prefix string
	types  map[string]bool // nil = every type
}

func (s *subscriber) wants(f Frame) bool {
	if s.prefix != "" && !strings.HasPrefix(f.Command.Target(), s.prefix) {
		return false
	}
	return s.types == nil || s.types[f.Type]
}

// Hub fans replication events out to connected clients. It is both a
// replication.Observer and the http.Handler for the feed endpoint.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}

	dropped atomic.Int64
	logger  *slog.Logger
}

var _ replication.Observer = (*Hub)(nil)

// NewHub returns an empty Hub. A nil logger means slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Observe encodes e once and offers it to every matching subscriber without
// blocking.
func (h *Hub) Observe(e replication.Event) {
	f := Frame{Type: e.Type.String(), ID: e.ID, Command: e.Command, At: e.At}
	if e.Err != nil {
		f.Error = e.Err.Error()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subs) == 0 {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("ws: encode frame", "id", f.ID, "err", err)
		return
	}
	for s := range h.subs {
		if !s.wants(f) {
			continue
		}
		select {
		case s.ch <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

func (h *Hub) subscribe(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	return true
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = true
		}
	}
	return out
}

// ServeHTTP upgrades the connection and streams frames until the client
// disconnects, the request context ends or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub := &subscriber{
		ch:     make(chan []byte, subscriberBuffer),
		prefix: r.URL.Query().Get("target"),
		types:  parseTypes(r.URL.Query().Get("types")),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	if !h.subscribe(sub) {
		_ = conn.WriteControl(gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer h.unsubscribe(sub)

	// The feed is one-way; reading only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-h.done:
			_ = conn.WriteControl(gorillaws.CloseMessage,
				gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(gorillaws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case data := <-sub.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		}
	}
}
