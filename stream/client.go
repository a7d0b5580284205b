package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"plantlink/logging"
)

const (
	// writeWait bounds a single frame write so one stalled consumer can't
	// hold the fan-out.
	writeWait = 2 * time.Second

	// pingPeriod is the keepalive interval; pongWait must exceed it.
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second

	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client is one connected WebSocket consumer. Outbound frames go through the
// buffered send channel; writePump is the only goroutine writing the conn.
type Client struct {
	b    *Broadcaster
	conn *websocket.Conn
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

// close marks the client dead and wakes its writer. Safe to call from any
// goroutine, any number of times.
func (c *Client) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

// enqueue hands a frame to the client's writer. A full buffer means the
// consumer has stalled past its allowance; the client is dropped rather
// than blocking the broadcast.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// readPump consumes inbound frames (write commands) until the connection
// dies, then deregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.b.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.DebugLog("ws", "client read error: %v", err)
			}
			return
		}

		c.handleMessage(data)
	}
}

// handleMessage parses one inbound frame and routes write commands. Replies
// go only to this client.
func (c *Client) handleMessage(data []byte) {
	var cmd WriteCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.sendError("invalid message")
		return
	}

	switch cmd.Type {
	case "write":
		result := c.b.router.HandleWrite(cmd)
		frame, err := json.Marshal(result)
		if err != nil {
			logging.DebugError("ws", "marshal write result", err)
			return
		}
		c.enqueue(frame)
	default:
		c.sendError("unknown message type")
	}
}

func (c *Client) sendError(text string) {
	frame, err := json.Marshal(map[string]string{"error": text})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with pings. Exits when the send channel closes or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.DebugLog("ws", "client write error: %v", err)
				c.b.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.b.remove(c)
				return
			}
		}
	}
}
