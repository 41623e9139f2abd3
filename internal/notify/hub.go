package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sonoscribe/sonoscribe/internal/observe"
	"github.com/sonoscribe/sonoscribe/internal/session"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
)

const (
	// clientQueueDepth bounds each subscriber's event queue. A client that
	// falls further behind than this is disconnected rather than allowed to
	// stall the session loop.
	clientQueueDepth = 128

	writeTimeout = 5 * time.Second
)

// Hub broadcasts session events to WebSocket subscribers. It implements both
// [session.Notifier] (event producer side) and [http.Handler] (subscriber
// side, typically mounted at /ws).
//
// Broadcasting never blocks: each client has its own queue and write
// goroutine, and a full queue drops the client.
type Hub struct {
	metrics *observe.Metrics

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

var (
	_ session.Notifier = (*Hub)(nil)
	_ http.Handler     = (*Hub)(nil)
)

type hubClient struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		metrics: observe.DefaultMetrics(),
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubClient{
		conn:   conn,
		events: make(chan Event, clientQueueDepth),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.Subscribers.Add(r.Context(), 1)
	slog.Info("transcript subscriber connected", "remote", r.RemoteAddr)

	// Reads are discarded but must be pumped so pings and close frames are
	// processed.
	readCtx := conn.CloseRead(r.Context())

	h.writeLoop(readCtx, c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.metrics.Subscribers.Add(context.Background(), -1)
	slog.Info("transcript subscriber disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) writeLoop(ctx context.Context, c *hubClient) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.events:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// broadcast queues an event for every subscriber, dropping clients whose
// queues are full.
func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.events <- ev:
		default:
			c.once.Do(func() { close(c.done) })
			delete(h.clients, c)
			slog.Warn("transcript subscriber too slow, dropping")
		}
	}
}

func (h *Hub) Started() {
	h.broadcast(Event{Type: "started"})
}

func (h *Hub) Update(seg transcribe.Segment) {
	h.broadcast(Event{Type: "segment", Segment: &seg})
}

func (h *Hub) Stopped(transcript []transcribe.Segment) {
	h.broadcast(Event{Type: "stopped", Transcript: transcript})
}

func (h *Hub) Error(cycle int, msg string) {
	h.broadcast(Event{Type: "error", Cycle: cycle, Message: msg})
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.once.Do(func() { close(c.done) })
		delete(h.clients, c)
	}
}
