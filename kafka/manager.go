package kafka

import (
	"sync"

	"plantlink/config"
	"plantlink/logging"
)

// LogFunc is a callback for operator-visible log messages.
type LogFunc func(format string, args ...interface{})

// Manager owns one Producer per configured cluster.
type Manager struct {
	producers map[string]*Producer
	mu        sync.RWMutex
	logFn     LogFunc
}

// NewManager creates a manager over the enabled Kafka configs.
func NewManager(cfgs []config.KafkaConfig, namespace string) *Manager {
	m := &Manager{
		producers: make(map[string]*Producer),
		logFn:     func(format string, args ...interface{}) {},
	}
	for i := range cfgs {
		if cfgs[i].Enabled {
			m.producers[cfgs[i].Name] = NewProducer(&cfgs[i], namespace)
		}
	}
	return m
}

// SetLogFunc sets the operator log callback.
func (m *Manager) SetLogFunc(fn LogFunc) {
	if fn != nil {
		m.logFn = fn
	}
}

// StartAll connects every producer. Failures are logged, not fatal.
func (m *Manager) StartAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, p := range m.producers {
		if err := p.Connect(); err != nil {
			m.logFn("Kafka producer %s failed to connect: %v", name, err)
		} else {
			m.logFn("Kafka producer %s connected", name)
		}
	}
}

// StopAll disconnects every producer.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.producers {
		p.Disconnect()
	}
}

// PublishChange produces a point change to every connected cluster.
func (m *Manager) PublishChange(pointID string, value interface{}, unit, quality string, writable bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, p := range m.producers {
		if err := p.PublishPoint(pointID, value, unit, quality, writable); err != nil {
			logging.DebugLog("kafka", "publish %s via %s: %v", pointID, name, err)
		}
	}
}

// PublishHealth produces the bridge health to every connected cluster.
func (m *Manager) PublishHealth(status, endpoint string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, p := range m.producers {
		if err := p.PublishHealth(status, endpoint); err != nil {
			logging.DebugLog("kafka", "publish health via %s: %v", name, err)
		}
	}
}

// Count returns the number of configured producers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.producers)
}
