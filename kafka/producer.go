// Package kafka produces the point change stream and bridge health to a
// Kafka cluster.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"plantlink/config"
	"plantlink/logging"
)

// ConnectionStatus represents the state of a Kafka connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// PointMessage is the JSON structure produced to the changes topic.
type PointMessage struct {
	Namespace string      `json:"namespace"`
	Point     string      `json:"point"`
	Value     interface{} `json:"value"`
	Unit      string      `json:"unit,omitempty"`
	Quality   string      `json:"quality"`
	Writable  bool        `json:"writable"`
	Timestamp string      `json:"timestamp"`
}

// HealthMessage is the JSON structure produced to the health topic.
type HealthMessage struct {
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
	Endpoint  string `json:"endpoint,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Producer handles message production to a single Kafka cluster.
type Producer struct {
	config    *config.KafkaConfig
	namespace string
	writers   map[string]*kafka.Writer // topic -> writer
	status    ConnectionStatus
	lastErr   error
	mu        sync.RWMutex

	// Stats
	messagesSent  int64
	messagesError int64
	lastSendTime  time.Time
}

// NewProducer creates a new Kafka producer.
func NewProducer(cfg *config.KafkaConfig, namespace string) *Producer {
	return &Producer{
		config:    cfg,
		namespace: namespace,
		writers:   make(map[string]*kafka.Writer),
		status:    StatusDisconnected,
	}
}

// Name returns the producer's configured name.
func (p *Producer) Name() string {
	return p.config.Name
}

// GetStatus returns the current connection status.
func (p *Producer) GetStatus() ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// GetError returns the last error.
func (p *Producer) GetError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// GetStats returns producer statistics.
func (p *Producer) GetStats() (sent, errors int64, lastSend time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.messagesSent, p.messagesError, p.lastSendTime
}

// Connect verifies connectivity to the cluster.
func (p *Producer) Connect() error {
	p.mu.Lock()
	p.status = StatusConnecting
	p.lastErr = nil
	name := p.config.Name
	brokers := p.config.Brokers
	p.mu.Unlock()

	if len(brokers) == 0 {
		err := fmt.Errorf("no brokers configured")
		p.mu.Lock()
		p.status = StatusError
		p.lastErr = err
		p.mu.Unlock()
		logging.DebugLog("kafka", "CONNECT %s: FAILED - %v", name, err)
		return err
	}

	logging.DebugLog("kafka", "CONNECT %s: connecting to brokers %v", name, brokers)

	dialer := p.createDialer()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		p.mu.Lock()
		p.status = StatusError
		p.lastErr = fmt.Errorf("failed to connect: %w", err)
		p.mu.Unlock()
		logging.DebugLog("kafka", "CONNECT %s: FAILED - %v", name, err)
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn.Close()

	p.mu.Lock()
	p.status = StatusConnected
	p.mu.Unlock()

	logging.DebugLog("kafka", "CONNECT %s: connected successfully", name)
	return nil
}

// Disconnect closes all writers and disconnects.
func (p *Producer) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	logging.DebugLog("kafka", "DISCONNECT %s: closing %d topic writers", p.config.Name, len(p.writers))

	for topic, writer := range p.writers {
		writer.Close()
		delete(p.writers, topic)
	}

	p.status = StatusDisconnected
	p.lastErr = nil
}

// topicPrefix is the namespace with the optional selector appended, with
// colons and slashes normalized for Kafka topic naming.
func (p *Producer) topicPrefix() string {
	prefix := p.namespace
	if p.config.Selector != "" {
		prefix = prefix + "." + p.config.Selector
	}
	return strings.NewReplacer(":", ".", "/", ".").Replace(prefix)
}

// PublishPoint produces one point change, keyed by point ID so per-point
// ordering survives partitioning.
func (p *Producer) PublishPoint(pointID string, value interface{}, unit, quality string, writable bool) error {
	msg := PointMessage{
		Namespace: p.namespace,
		Point:     pointID,
		Value:     value,
		Unit:      unit,
		Quality:   quality,
		Writable:  writable,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal point message: %w", err)
	}

	topic := p.topicPrefix() + ".changes"
	return p.produce(topic, []byte(pointID), payload)
}

// PublishHealth produces the bridge health to the health topic.
func (p *Producer) PublishHealth(status, endpoint string) error {
	msg := HealthMessage{
		Namespace: p.namespace,
		Status:    status,
		Endpoint:  endpoint,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal health message: %w", err)
	}

	topic := p.topicPrefix() + ".health"
	return p.produce(topic, []byte("health"), payload)
}

// produce sends one message synchronously.
func (p *Producer) produce(topic string, key, value []byte) error {
	writer, err := p.getWriter(topic)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})

	if err != nil {
		p.mu.Lock()
		p.messagesError++
		p.lastErr = err
		p.mu.Unlock()
		logging.DebugLog("kafka", "PRODUCE %s: FAILED topic '%s': %v", p.config.Name, topic, err)
		return fmt.Errorf("kafka produce failed: %w", err)
	}

	p.mu.Lock()
	p.messagesSent++
	p.lastSendTime = time.Now()
	p.lastErr = nil
	p.mu.Unlock()

	return nil
}

// getWriter returns or creates a writer for the given topic.
func (p *Producer) getWriter(topic string) (*kafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusConnected {
		return nil, fmt.Errorf("kafka cluster '%s' not connected", p.config.Name)
	}

	if writer, exists := p.writers[topic]; exists {
		return writer, nil
	}

	maxAttempts := p.config.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	writer := &kafka.Writer{
		Addr:      kafka.TCP(p.config.Brokers...),
		Topic:     topic,
		Balancer:  &kafka.Hash{},
		Transport: p.createTransport(),

		// Delivery guarantees
		RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		Async:        false,
		MaxAttempts:  maxAttempts,

		// Batching settings: flush quickly, this stream is low-volume
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,

		AllowAutoTopicCreation: true,
	}

	p.writers[topic] = writer
	logging.DebugLog("kafka", "TOPIC %s: created writer for topic '%s'", p.config.Name, topic)
	return writer, nil
}

// createDialer creates a Kafka dialer with TLS when configured.
func (p *Producer) createDialer() *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if p.config.UseTLS {
		dialer.TLS = p.tlsConfig()
	}
	return dialer
}

// createTransport creates a Kafka transport with TLS when configured.
func (p *Producer) createTransport() *kafka.Transport {
	transport := &kafka.Transport{
		DialTimeout: 10 * time.Second,
	}
	if p.config.UseTLS {
		transport.TLS = p.tlsConfig()
	}
	return transport
}

func (p *Producer) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: p.config.TLSSkipVerify,
	}
}
