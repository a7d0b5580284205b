package web

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"plantlink/bridge"
	"plantlink/cache"
	"plantlink/config"
	"plantlink/stream"
)

type fakeBridge struct {
	mu         sync.Mutex
	status     bridge.HealthStatus
	reconnects int
	endpoints  []string
}

func (f *fakeBridge) Status() bridge.HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeBridge) RequestReconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeBridge) SetPrimaryEndpoint(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = append(f.endpoints, address)
}

func webPoints() []config.Point {
	return []config.Point{
		{ID: "temp", Name: "Temperature", NodeID: "ns=2;s=Temp", DataType: config.TypeFloat, Unit: "C", Writable: true},
		{ID: "count", NodeID: "ns=2;s=Count", DataType: config.TypeInt32},
	}
}

func newTestServer(fb *fakeBridge) (*Server, *cache.Cache) {
	c := cache.New(webPoints())
	bc := stream.NewBroadcaster(c.Values)
	cfg := &config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: 0}
	return NewServer(cfg, fb, bc, c), c
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleStatus(t *testing.T) {
	fb := &fakeBridge{status: bridge.HealthStatus{
		Status:   "connected",
		Endpoint: "opc.tcp://plc:4840",
		Role:     "primary",
	}}
	s, _ := newTestServer(fb)

	rec := doRequest(s, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Status != "connected" {
		t.Errorf("expected connected, got %s", resp.Status)
	}
	if resp.Endpoint != "opc.tcp://plc:4840" {
		t.Errorf("unexpected endpoint %s", resp.Endpoint)
	}
	if resp.Clients != 0 {
		t.Errorf("expected 0 clients, got %d", resp.Clients)
	}
}

func TestHandlePoints(t *testing.T) {
	s, c := newTestServer(&fakeBridge{})
	c.OptimisticSet("temp", 21.5)

	rec := doRequest(s, "GET", "/api/points", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var points []PointResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}

	// Declaration order is preserved
	if points[0].ID != "temp" || points[1].ID != "count" {
		t.Errorf("unexpected order: %s, %s", points[0].ID, points[1].ID)
	}
	if points[0].Value != 21.5 {
		t.Errorf("expected cached value 21.5, got %v", points[0].Value)
	}
	if points[0].Quality != "good" {
		t.Errorf("expected good quality, got %s", points[0].Quality)
	}
	// No sample yet: value and quality stay empty
	if points[1].Value != nil {
		t.Errorf("expected no value for unsampled point, got %v", points[1].Value)
	}
}

func TestHandleSinglePoint(t *testing.T) {
	s, c := newTestServer(&fakeBridge{})
	c.OptimisticSet("temp", 21.5)

	t.Run("found", func(t *testing.T) {
		rec := doRequest(s, "GET", "/api/points/temp", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var p PointResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if p.ID != "temp" || p.Value != 21.5 {
			t.Errorf("unexpected point %+v", p)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(s, "GET", "/api/points/ghost", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["error"] != "point not found" {
			t.Errorf("unexpected error body %v", body)
		}
	})
}

func TestHandleReconnect(t *testing.T) {
	fb := &fakeBridge{}
	s, _ := newTestServer(fb)

	rec := doRequest(s, "POST", "/api/reconnect", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["status"] != "reconnect_requested" {
		t.Errorf("unexpected body %v", body)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.reconnects != 1 {
		t.Errorf("expected 1 reconnect request, got %d", fb.reconnects)
	}
}

func TestHandleEndpoint(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		fb := &fakeBridge{}
		s, _ := newTestServer(fb)

		rec := doRequest(s, "POST", "/api/endpoint", `{"address":"opc.tcp://new:4840"}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}

		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["status"] != "endpoint_updated" || body["address"] != "opc.tcp://new:4840" {
			t.Errorf("unexpected body %v", body)
		}

		fb.mu.Lock()
		defer fb.mu.Unlock()
		if len(fb.endpoints) != 1 || fb.endpoints[0] != "opc.tcp://new:4840" {
			t.Errorf("expected endpoint recorded, got %v", fb.endpoints)
		}
	})

	t.Run("missing address", func(t *testing.T) {
		fb := &fakeBridge{}
		s, _ := newTestServer(fb)

		rec := doRequest(s, "POST", "/api/endpoint", `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if len(fb.endpoints) != 0 {
			t.Error("invalid request must not reach the bridge")
		}
	})

	t.Run("bad body", func(t *testing.T) {
		fb := &fakeBridge{}
		s, _ := newTestServer(fb)

		rec := doRequest(s, "POST", "/api/endpoint", `{not json`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestStartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	c := cache.New(webPoints())
	bc := stream.NewBroadcaster(c.Values)
	cfg := &config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	s := NewServer(cfg, &fakeBridge{}, bc, c)

	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("expected Start to fail on a bound port")
	}
	if s.IsRunning() {
		t.Error("server must not report running after a failed bind")
	}
}

func TestStartStop(t *testing.T) {
	c := cache.New(webPoints())
	bc := stream.NewBroadcaster(c.Values)
	cfg := &config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: 0}
	s := NewServer(cfg, &fakeBridge{}, bc, c)

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected running after Start")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected stopped after Stop")
	}
}

func TestCORSHeaders(t *testing.T) {
	s, _ := newTestServer(&fakeBridge{})

	rec := doRequest(s, "OPTIONS", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS origin header")
	}
}
