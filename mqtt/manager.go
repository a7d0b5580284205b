package mqtt

import (
	"sync"

	"plantlink/config"
)

// LogFunc is a callback for operator-visible log messages.
type LogFunc func(format string, args ...interface{})

// Manager owns one Publisher per configured broker.
type Manager struct {
	publishers map[string]*Publisher
	mu         sync.RWMutex
	logFn      LogFunc
}

// NewManager creates a manager over the enabled MQTT configs.
func NewManager(cfgs []config.MQTTConfig, namespace string) *Manager {
	m := &Manager{
		publishers: make(map[string]*Publisher),
		logFn:      func(format string, args ...interface{}) {},
	}
	for i := range cfgs {
		if cfgs[i].Enabled {
			m.publishers[cfgs[i].Name] = NewPublisher(&cfgs[i], namespace)
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

// StartAll connects every publisher. Failures are logged; a dead broker
// never blocks the bridge.
func (m *Manager) StartAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, p := range m.publishers {
		if err := p.Start(); err != nil {
			m.logFn("MQTT publisher %s failed to start: %v", name, err)
		} else {
			m.logFn("MQTT publisher %s connected to %s", name, p.Address())
		}
	}
}

// StopAll disconnects every publisher.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.publishers {
		p.Stop()
	}
}

// PublishChange sends a point change to every connected broker.
func (m *Manager) PublishChange(pointID string, value interface{}, unit, quality string, writable, force bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.publishers {
		p.Publish(pointID, value, unit, quality, writable, force)
	}
}

// PublishHealth sends the bridge health to every connected broker.
func (m *Manager) PublishHealth(status, endpoint string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.publishers {
		p.PublishHealth(status, endpoint)
	}
}

// Count returns the number of configured publishers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishers)
}
