package mqtt

import (
	"encoding/json"
	"testing"

	"plantlink/config"
)

func TestBuildTopic(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		selector  string
		pointID   string
		expected  string
	}{
		{"no selector", "plant1", "", "temp", "plant1/points/temp"},
		{"with selector", "plant1", "line2", "temp", "plant1/line2/points/temp"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPublisher(&config.MQTTConfig{Name: "test", Selector: tc.selector}, tc.namespace)
			if got := p.BuildTopic(tc.pointID); got != tc.expected {
				t.Errorf("BuildTopic(%s) = %s, want %s", tc.pointID, got, tc.expected)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Broker: "mqtt.local", Port: 1883}, "plant1")
	if p.Address() != "tcp://mqtt.local:1883" {
		t.Errorf("unexpected address %s", p.Address())
	}

	p = NewPublisher(&config.MQTTConfig{Broker: "mqtt.local", Port: 8883, UseTLS: true}, "plant1")
	if p.Address() != "ssl://mqtt.local:8883" {
		t.Errorf("unexpected TLS address %s", p.Address())
	}
}

func TestPublishNotRunning(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Name: "test"}, "plant1")
	if p.Publish("temp", 21.5, "C", "good", false, false) {
		t.Error("publish must be a no-op when not connected")
	}
	if p.PublishHealth("connected", "opc.tcp://plc:4840") {
		t.Error("health publish must be a no-op when not connected")
	}
}

func TestPointMessageShape(t *testing.T) {
	msg := PointMessage{
		Point:     "temp",
		Value:     21.5,
		Unit:      "C",
		Quality:   "good",
		Writable:  true,
		Timestamp: "2026-01-02T03:04:05Z",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	for _, field := range []string{"point", "value", "unit", "quality", "writable", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing field %s", field)
		}
	}

	// Empty unit is omitted
	data, _ = json.Marshal(PointMessage{Point: "count", Value: 1})
	var bare map[string]interface{}
	json.Unmarshal(data, &bare)
	if _, ok := bare["unit"]; ok {
		t.Error("empty unit must be omitted")
	}
}

func TestManagerSkipsDisabled(t *testing.T) {
	m := NewManager([]config.MQTTConfig{
		{Name: "on", Enabled: true},
		{Name: "off", Enabled: false},
	}, "plant1")

	if m.Count() != 1 {
		t.Errorf("expected 1 enabled publisher, got %d", m.Count())
	}
}
