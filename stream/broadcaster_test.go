package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"plantlink/cache"
)

// dialBroadcaster connects a test WebSocket client to the broadcaster.
func dialBroadcaster(t *testing.T, b *Broadcaster) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleUpgrade))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("bad frame %q: %v", data, err)
	}
	return out
}

func waitForClients(t *testing.T, b *Broadcaster, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clients, have %d", want, b.ClientCount())
}

func newTestBroadcaster(c *cache.Cache, up *fakeUpstream) *Broadcaster {
	b := NewBroadcaster(c.Values)
	b.SetCommandRouter(NewCommandRouter(routerPoints(), c, up, b.BroadcastDelta))
	return b
}

func TestSnapshotOnConnect(t *testing.T) {
	c := cache.New(routerPoints())
	c.OptimisticSet("setpoint", 42.5)
	c.OptimisticSet("running", true)

	b := newTestBroadcaster(c, &fakeUpstream{active: true})

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()

	snap := readJSON(t, conn)
	if len(snap) != 2 {
		t.Fatalf("expected 2 snapshot values, got %v", snap)
	}
	if snap["setpoint"] != 42.5 {
		t.Errorf("expected setpoint 42.5, got %v", snap["setpoint"])
	}
	if snap["running"] != true {
		t.Errorf("expected running true, got %v", snap["running"])
	}
}

func TestDeltaBroadcast(t *testing.T) {
	c := cache.New(routerPoints())
	b := newTestBroadcaster(c, &fakeUpstream{active: true})

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()

	// Empty snapshot first
	snap := readJSON(t, conn)
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap)
	}

	waitForClients(t, b, 1)
	b.BroadcastDelta(map[string]interface{}{"setpoint": 21.0})

	delta := readJSON(t, conn)
	if delta["setpoint"] != 21.0 {
		t.Errorf("expected delta {setpoint: 21}, got %v", delta)
	}
	if len(delta) != 1 {
		t.Errorf("delta must carry only changed points, got %v", delta)
	}
}

func TestErrorFrame(t *testing.T) {
	c := cache.New(routerPoints())
	b := newTestBroadcaster(c, &fakeUpstream{active: true})

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()

	readJSON(t, conn) // snapshot

	waitForClients(t, b, 1)
	b.BroadcastError("upstream connection lost")

	frame := readJSON(t, conn)
	if frame["error"] != "upstream connection lost" {
		t.Errorf("expected error frame, got %v", frame)
	}
}

func TestWriteOverSocket(t *testing.T) {
	c := cache.New(routerPoints())
	up := &fakeUpstream{active: true}
	b := newTestBroadcaster(c, up)

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()

	readJSON(t, conn) // snapshot

	cmd := WriteCommand{Type: "write", NodeID: "setpoint", Value: 55.5}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Two frames come back in some order: the write ack and the optimistic
	// delta broadcast.
	var ack map[string]interface{}
	var delta map[string]interface{}
	for i := 0; i < 2; i++ {
		frame := readJSON(t, conn)
		if _, ok := frame["status"]; ok {
			ack = frame
		} else {
			delta = frame
		}
	}

	if ack == nil || ack["status"] != StatusWriteSuccess {
		t.Errorf("expected write_success ack, got %v", ack)
	}
	if ack != nil && ack["nodeId"] != "setpoint" {
		t.Errorf("expected nodeId echoed in ack, got %v", ack)
	}
	if delta == nil || delta["setpoint"] != 55.5 {
		t.Errorf("expected optimistic delta, got %v", delta)
	}
}

func TestWriteErrorOverSocket(t *testing.T) {
	c := cache.New(routerPoints())
	b := newTestBroadcaster(c, &fakeUpstream{active: false})

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()

	readJSON(t, conn) // snapshot

	if err := conn.WriteJSON(WriteCommand{Type: "write", NodeID: "setpoint", Value: 1.0}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame := readJSON(t, conn)
	if frame["status"] != StatusWriteError || frame["error"] != "not connected" {
		t.Errorf("expected not connected write_error, got %v", frame)
	}
}

func TestUnknownMessageType(t *testing.T) {
	c := cache.New(routerPoints())
	b := newTestBroadcaster(c, &fakeUpstream{active: true})

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()

	readJSON(t, conn) // snapshot

	if err := conn.WriteJSON(map[string]string{"type": "subscribe"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame := readJSON(t, conn)
	if frame["error"] != "unknown message type" {
		t.Errorf("expected unknown message type error, got %v", frame)
	}
}

func TestInvalidJSON(t *testing.T) {
	c := cache.New(routerPoints())
	b := newTestBroadcaster(c, &fakeUpstream{active: true})

	conn, cleanup := dialBroadcaster(t, b)
	defer cleanup()

	readJSON(t, conn) // snapshot

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame := readJSON(t, conn)
	if frame["error"] != "invalid message" {
		t.Errorf("expected invalid message error, got %v", frame)
	}
}

func TestClientDisconnectDeregisters(t *testing.T) {
	c := cache.New(routerPoints())
	b := newTestBroadcaster(c, &fakeUpstream{active: true})

	conn, cleanup := dialBroadcaster(t, b)

	readJSON(t, conn) // snapshot
	waitForClients(t, b, 1)

	cleanup()
	waitForClients(t, b, 0)
}
