// Package stream fans cached value changes out to WebSocket consumers and
// routes their write commands back upstream.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"plantlink/logging"
)

// LogFunc is a callback for operator-visible log messages.
type LogFunc func(format string, args ...interface{})

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Downstream dashboards connect cross-origin; access control is the
	// deployment's perimeter, not per-client auth.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster owns the WebSocket client set. New clients get the full value
// snapshot; after that they see deltas containing only changed points.
type Broadcaster struct {
	snapshot func() map[string]interface{}
	router   *CommandRouter
	logFn    LogFunc

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewBroadcaster creates a broadcaster. snapshot supplies the point values
// sent to each newly registered client.
func NewBroadcaster(snapshot func() map[string]interface{}) *Broadcaster {
	return &Broadcaster{
		snapshot: snapshot,
		clients:  make(map[*Client]bool),
		logFn:    func(format string, args ...interface{}) {},
	}
}

// SetLogFunc sets the operator log callback.
func (b *Broadcaster) SetLogFunc(fn LogFunc) {
	if fn != nil {
		b.logFn = fn
	}
}

// SetCommandRouter wires the write command handler. Must be set before the
// first upgrade.
func (b *Broadcaster) SetCommandRouter(r *CommandRouter) {
	b.router = r
}

// HandleUpgrade upgrades an HTTP request to a WebSocket client, sends the
// snapshot, and starts the client's pumps.
func (b *Broadcaster) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.DebugError("ws", "upgrade", err)
		return
	}

	client := &Client{
		b:    b,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client] = true
	count := len(b.clients)
	b.mu.Unlock()

	b.logFn("WebSocket client connected (%d total)", count)
	logging.DebugConnectSuccess("ws", r.RemoteAddr, "client registered")

	// Snapshot goes out first so the client starts from complete state
	// before any delta arrives.
	if frame, err := json.Marshal(b.snapshot()); err == nil {
		client.enqueue(frame)
	}

	go client.writePump()
	go client.readPump()
}

// remove deregisters a client and marks it dead. Idempotent: read and write
// pumps both call it on their way out.
func (b *Broadcaster) remove(c *Client) {
	b.mu.Lock()
	if !b.clients[c] {
		b.mu.Unlock()
		c.close()
		return
	}
	delete(b.clients, c)
	count := len(b.clients)
	b.mu.Unlock()

	c.close()
	b.logFn("WebSocket client disconnected (%d remaining)", count)
}

// BroadcastDelta sends the changed point values to every client. The frame
// is serialized once; clients that can't keep up are dropped.
func (b *Broadcaster) BroadcastDelta(changes map[string]interface{}) {
	if len(changes) == 0 {
		return
	}

	frame, err := json.Marshal(changes)
	if err != nil {
		logging.DebugError("ws", "marshal delta", err)
		return
	}

	b.send(frame)
}

// BroadcastError notifies every client of an upstream fault.
func (b *Broadcaster) BroadcastError(text string) {
	frame, err := json.Marshal(map[string]string{"error": text})
	if err != nil {
		return
	}
	b.send(frame)
}

func (b *Broadcaster) send(frame []byte) {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(frame) {
			logging.DebugLog("ws", "client send buffer full, dropping client")
			b.remove(c)
		}
	}
}

// ClientCount returns the number of connected consumers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// CloseAll disconnects every client. Used during shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*Client]bool)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
