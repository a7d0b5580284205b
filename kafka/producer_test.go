package kafka

import (
	"strings"
	"testing"

	"plantlink/config"
)

func TestTopicPrefix(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		selector  string
		expected  string
	}{
		{"plain", "plant1", "", "plant1"},
		{"with selector", "plant1", "line2", "plant1.line2"},
		{"colons normalized", "plant:1", "", "plant.1"},
		{"slashes normalized", "plant/1", "line/2", "plant.1.line.2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProducer(&config.KafkaConfig{Name: "test", Selector: tc.selector}, tc.namespace)
			if got := p.topicPrefix(); got != tc.expected {
				t.Errorf("topicPrefix() = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestConnectNoBrokers(t *testing.T) {
	p := NewProducer(&config.KafkaConfig{Name: "test"}, "plant1")

	err := p.Connect()
	if err == nil || !strings.Contains(err.Error(), "no brokers") {
		t.Fatalf("expected no brokers error, got %v", err)
	}
	if p.GetStatus() != StatusError {
		t.Errorf("expected StatusError, got %s", p.GetStatus())
	}
}

func TestPublishNotConnected(t *testing.T) {
	p := NewProducer(&config.KafkaConfig{Name: "test", Brokers: []string{"localhost:9092"}}, "plant1")

	err := p.PublishPoint("temp", 21.5, "C", "good", false)
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("expected not connected error, got %v", err)
	}
}

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusDisconnected, "Disconnected"},
		{StatusConnecting, "Connecting"},
		{StatusConnected, "Connected"},
		{StatusError, "Error"},
	}

	for _, tc := range tests {
		if got := tc.status.String(); got != tc.expected {
			t.Errorf("String(%d) = %s, want %s", tc.status, got, tc.expected)
		}
	}
}

func TestManagerSkipsDisabled(t *testing.T) {
	m := NewManager([]config.KafkaConfig{
		{Name: "on", Enabled: true, Brokers: []string{"localhost:9092"}},
		{Name: "off", Enabled: false},
	}, "plant1")

	if m.Count() != 1 {
		t.Errorf("expected 1 enabled producer, got %d", m.Count())
	}
}
