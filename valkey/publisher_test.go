package valkey

import (
	"encoding/json"
	"testing"
	"time"

	"plantlink/config"
)

func TestJoinKey(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		expected string
	}{
		{"simple", []string{"plant1", "points", "temp"}, "plant1:points:temp"},
		{"empty segment dropped", []string{"plant1", "", "temp"}, "plant1:temp"},
		{"leading colons trimmed", []string{":plant1:", "temp"}, "plant1:temp"},
		{"all empty", []string{"", ":"}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := joinKey(tc.segments...); got != tc.expected {
				t.Errorf("joinKey(%v) = %q, want %q", tc.segments, got, tc.expected)
			}
		})
	}
}

func TestRootKey(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "test"}, "plant1")
	if p.root() != "plant1" {
		t.Errorf("expected plant1, got %s", p.root())
	}

	p = NewPublisher(&config.ValkeyConfig{Name: "test", Selector: "line2"}, "plant1")
	if p.root() != "plant1:line2" {
		t.Errorf("expected plant1:line2, got %s", p.root())
	}
}

func TestPublishNotRunning(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "test"}, "plant1")
	if err := p.Publish("temp", 21.5, "C", "good", false); err != nil {
		t.Errorf("publish while stopped must be a silent no-op, got %v", err)
	}
	if err := p.PublishHealth("connected", "opc.tcp://plc:4840", ""); err != nil {
		t.Errorf("health publish while stopped must be a silent no-op, got %v", err)
	}
}

func TestPointMessageShape(t *testing.T) {
	msg := PointMessage{
		Namespace: "plant1",
		Point:     "temp",
		Value:     21.5,
		Unit:      "C",
		Quality:   "good",
		Writable:  true,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	for _, field := range []string{"namespace", "point", "value", "quality", "writable", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing field %s", field)
		}
	}
}

func TestManagerSkipsDisabled(t *testing.T) {
	m := NewManager([]config.ValkeyConfig{
		{Name: "on", Enabled: true, Address: "localhost:6379"},
		{Name: "off", Enabled: false},
	}, "plant1")

	if m.Count() != 1 {
		t.Errorf("expected 1 enabled publisher, got %d", m.Count())
	}
}
