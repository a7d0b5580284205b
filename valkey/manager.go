package valkey

import (
	"sync"

	"plantlink/config"
)

// LogFunc is a callback for operator-visible log messages.
type LogFunc func(format string, args ...interface{})

// Manager owns one Publisher per configured Valkey server.
type Manager struct {
	publishers map[string]*Publisher
	mu         sync.RWMutex
	logFn      LogFunc
}

// NewManager creates a manager over the enabled Valkey configs.
func NewManager(cfgs []config.ValkeyConfig, namespace string) *Manager {
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

// SetOnConnectCallback sets the post-connect callback on every publisher.
func (m *Manager) SetOnConnectCallback(callback func()) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.publishers {
		p.SetOnConnectCallback(callback)
	}
}

// StartAll connects every publisher. Failures are logged, not fatal.
func (m *Manager) StartAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, p := range m.publishers {
		if err := p.Start(); err != nil {
			m.logFn("Valkey publisher %s failed to start: %v", name, err)
		} else {
			m.logFn("Valkey publisher %s connected to %s", name, p.Address())
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

// PublishChange stores a point change on every connected server.
func (m *Manager) PublishChange(pointID string, value interface{}, unit, quality string, writable bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, p := range m.publishers {
		if err := p.Publish(pointID, value, unit, quality, writable); err != nil {
			debugLog("publish %s via %s: %v", pointID, name, err)
		}
	}
}

// PublishHealth stores the bridge health on every connected server.
func (m *Manager) PublishHealth(status, endpoint, errMsg string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, p := range m.publishers {
		if err := p.PublishHealth(status, endpoint, errMsg); err != nil {
			debugLog("publish health via %s: %v", name, err)
		}
	}
}

// Count returns the number of configured publishers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishers)
}
