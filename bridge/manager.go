// Package bridge owns the upstream connection lifecycle: connect, session,
// subscription, reconnect with endpoint fallback, and upstream writes.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"plantlink/adapter"
	"plantlink/cache"
	"plantlink/config"
	"plantlink/logging"
)

// LogFunc is a callback for operator-visible log messages.
type LogFunc func(format string, args ...interface{})

type msgKind int

const (
	msgConnect msgKind = iota
	msgFault
	msgReconnectRequest
	msgEndpointOverride
)

type message struct {
	kind     msgKind
	event    adapter.UpstreamEvent
	endpoint string
}

type endpointCandidate struct {
	address string
	role    string
}

// Manager is the connection state machine. A single control-loop goroutine
// owns the adapter lifecycle; everything else talks to it through the inbox
// or reads state snapshots under the mutex.
type Manager struct {
	cfg     *config.Config
	adapter adapter.ProtocolAdapter
	cache   *cache.Cache

	// Events carries lifecycle events to interested subscribers.
	Events *EventBus

	inbox  chan message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logFn LogFunc

	// onChange fires for every cache-visible change; set before Start.
	onChange func(pointID string, entry cache.Entry)
	// onFaultNotice carries operator-readable fault text to the stream
	// layer (error frames); set before Start.
	onFaultNotice func(msg string)

	mu              sync.RWMutex
	state           State
	endpoint        string
	role            string
	attempts        int
	lastErr         error
	primaryOverride string

	runner *subscriptionRunner
}

// NewManager creates a bridge manager for the given adapter and cache.
func NewManager(cfg *config.Config, a adapter.ProtocolAdapter, c *cache.Cache) *Manager {
	return &Manager{
		cfg:     cfg,
		adapter: a,
		cache:   c,
		Events:  NewEventBus(),
		inbox:   make(chan message, 16),
		state:   StateDisconnected,
		logFn:   func(format string, args ...interface{}) {},
	}
}

// SetLogFunc sets the operator log callback.
func (m *Manager) SetLogFunc(fn LogFunc) {
	if fn != nil {
		m.logFn = fn
	}
}

// SetOnValueChange sets the callback fired for every value or quality change
// that reaches the cache. Must be called before Start.
func (m *Manager) SetOnValueChange(fn func(pointID string, entry cache.Entry)) {
	m.onChange = fn
}

// SetOnFaultNotice sets the callback fired with a readable message whenever
// the upstream degrades. Must be called before Start.
func (m *Manager) SetOnFaultNotice(fn func(msg string)) {
	m.onFaultNotice = fn
}

// Start launches the control loop and requests the first connect.
func (m *Manager) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.adapter.SetEventHandler(func(ev adapter.UpstreamEvent) {
		m.post(message{kind: msgFault, event: ev})
	})

	m.wg.Add(1)
	go m.run()

	m.post(message{kind: msgConnect})
}

// Stop shuts down the control loop and closes the upstream.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// RequestReconnect asks the control loop to drop the current connection and
// start a fresh cycle. Returns immediately.
func (m *Manager) RequestReconnect() {
	m.post(message{kind: msgReconnectRequest})
}

// SetPrimaryEndpoint overrides the primary endpoint at runtime and triggers
// a reconnect against it. Returns immediately.
func (m *Manager) SetPrimaryEndpoint(address string) {
	m.post(message{kind: msgEndpointOverride, endpoint: address})
}

// post delivers a message to the control loop without blocking. The inbox is
// sized for the rare control messages this bridge sees; overflow is logged
// and dropped.
func (m *Manager) post(msg message) {
	select {
	case m.inbox <- msg:
	default:
		logging.DebugLog("bridge", "inbox full, dropped message kind %d", msg.kind)
	}
}

// SessionActive reports whether writes can be accepted right now.
func (m *Manager) SessionActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateSessionActive
}

// Status returns a point-in-time health snapshot.
func (m *Manager) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hs := HealthStatus{
		Status:   healthLabel(m.state, m.role),
		Endpoint: m.endpoint,
		Role:     m.role,
		Attempts: m.attempts,
	}
	if m.lastErr != nil {
		hs.LastError = m.lastErr.Error()
	}
	return hs
}

// Write sends a coerced value upstream, bounded by the configured write
// timeout. Callers must have checked SessionActive; the check is repeated
// here because the session can drop between check and write.
func (m *Manager) Write(point config.Point, value interface{}) error {
	if !m.SessionActive() {
		return fmt.Errorf("not connected")
	}

	timeout := m.cfg.Upstream.WriteTimeout

	done := make(chan error, 1)
	go func() {
		done <- m.adapter.WriteOne(point, value)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.Events.Emit(Event{Type: EventWriteFailed, Payload: WriteEvent{PointID: point.ID, Err: err.Error()}})
			return err
		}
		m.Events.Emit(Event{Type: EventWriteCompleted, Payload: WriteEvent{PointID: point.ID}})
		return nil
	case <-time.After(timeout):
		err := fmt.Errorf("write to %s timed out after %s", point.ID, timeout)
		m.Events.Emit(Event{Type: EventWriteFailed, Payload: WriteEvent{PointID: point.ID, Err: err.Error()}})
		return err
	}
}

// run is the control loop. It is the only goroutine that touches the
// adapter lifecycle.
func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			m.teardown("shutdown")
			m.Events.Emit(Event{Type: EventDisconnected})
			return
		case msg := <-m.inbox:
			switch msg.kind {
			case msgConnect:
				m.connectCycle()
			case msgFault:
				m.handleFault(msg.event)
			case msgReconnectRequest:
				m.logFn("Reconnect requested")
				m.teardown("reconnect requested")
				m.connectCycle()
			case msgEndpointOverride:
				m.logFn("Primary endpoint overridden to %s", msg.endpoint)
				m.mu.Lock()
				m.primaryOverride = msg.endpoint
				m.mu.Unlock()
				m.Events.Emit(Event{Type: EventEndpointOverridden, Payload: ConnectionEvent{Endpoint: msg.endpoint, Role: RolePrimary}})
				m.teardown("endpoint override")
				m.connectCycle()
			}
		}
	}
}

// candidates returns the endpoints to try this cycle, primary first. Every
// cycle starts over at the primary; a fallback session never becomes sticky.
func (m *Manager) candidates() []endpointCandidate {
	m.mu.RLock()
	override := m.primaryOverride
	m.mu.RUnlock()

	primary := m.cfg.Upstream.PrimaryEndpoint
	if override != "" {
		primary = override
	}

	out := []endpointCandidate{{address: primary, role: RolePrimary}}
	if fb := m.cfg.Upstream.FallbackEndpoint; fb != "" && fb != primary {
		out = append(out, endpointCandidate{address: fb, role: RoleFallback})
	}
	return out
}

// connectCycle runs one full connect attempt: transport, session,
// subscription. Runs on the control loop only.
func (m *Manager) connectCycle() {
	m.mu.Lock()
	// In-flight and already-up guard: queued connect requests are no-ops.
	if m.state == StateConnecting || m.state == StateSessionActive {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	m.Events.Emit(Event{Type: EventConnecting, Payload: ConnectionEvent{Attempt: attempt}})

	var lastErr error
	var active endpointCandidate
	connected := false

	for _, ep := range m.candidates() {
		m.logFn("Connecting to %s endpoint %s (attempt %d)", ep.role, ep.address, attempt)
		if err := m.adapter.Connect(ep.address); err != nil {
			m.logFn("Connect to %s failed: %v", ep.address, err)
			lastErr = err
			continue
		}
		active = ep
		connected = true
		break
	}

	if !connected {
		m.failCycle(lastErr)
		return
	}

	m.setState(StateConnected, active.address, active.role)
	m.Events.Emit(Event{Type: EventConnected, Payload: ConnectionEvent{Endpoint: active.address, Role: active.role, Attempt: attempt}})
	if active.role == RoleFallback {
		m.Events.Emit(Event{Type: EventEndpointSwitched, Payload: ConnectionEvent{Endpoint: active.address, Role: active.role}})
	}

	if err := m.adapter.CreateSession(); err != nil {
		m.logFn("Session setup on %s failed: %v", active.address, err)
		m.adapter.Close()
		m.failCycle(err)
		return
	}

	runner := newSubscriptionRunner(m.adapter, m.cfg.Points, m.cfg.Upstream.PollRate,
		m.handleSample,
		func(err error) {
			m.post(message{kind: msgFault, event: adapter.UpstreamEvent{Kind: adapter.EventConnectionLost, Err: err}})
		})
	if err := runner.Start(); err != nil {
		m.logFn("Subscription on %s failed: %v", active.address, err)
		m.adapter.Close()
		m.failCycle(err)
		return
	}
	m.runner = runner
	m.Events.Emit(Event{Type: EventSubscriptionStarted, Payload: ConnectionEvent{Endpoint: active.address, Role: active.role}})

	m.mu.Lock()
	m.state = StateSessionActive
	m.attempts = 0
	m.lastErr = nil
	m.mu.Unlock()

	m.logFn("Upstream session active on %s (%s)", active.address, active.role)
	m.Events.Emit(Event{Type: EventSessionActive, Payload: ConnectionEvent{Endpoint: active.address, Role: active.role}})
}

// handleFault reacts to an asynchronous upstream fault. Faults arriving
// while no session is up are stale echoes of a teardown already handled.
func (m *Manager) handleFault(ev adapter.UpstreamEvent) {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if state != StateSessionActive && state != StateConnected {
		return
	}

	m.logFn("Upstream fault: %s (%v)", ev.Kind, ev.Err)
	logging.DebugError("bridge", ev.Kind.String(), ev.Err)

	m.teardown(ev.Kind.String())
	m.notifyFault(fmt.Sprintf("upstream %s", ev.Kind))
	m.failCycle(ev.Err)
}

// failCycle records the error, enters Reconnecting, and schedules the next
// cycle after the fixed backoff. Only shutdown cancels a scheduled retry.
func (m *Manager) failCycle(err error) {
	m.mu.Lock()
	m.state = StateReconnecting
	m.lastErr = err
	m.endpoint = ""
	m.role = ""
	attempt := m.attempts
	m.mu.Unlock()

	delay := m.cfg.Upstream.ReconnectDelay

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	m.Events.Emit(Event{Type: EventReconnecting, Payload: ConnectionEvent{Attempt: attempt, Err: errText}})
	m.logFn("Reconnecting in %s (attempt %d): %v", delay, attempt, err)

	time.AfterFunc(delay, func() {
		m.post(message{kind: msgConnect})
	})
}

// teardown stops change delivery, closes the upstream, and drops the state
// back to Disconnected so the next connect cycle passes its in-flight guard.
// Runs on the control loop only.
func (m *Manager) teardown(reason string) {
	if m.runner != nil {
		m.runner.Stop()
		m.runner = nil
	}
	if err := m.adapter.Close(); err != nil {
		logging.DebugError("bridge", "close ("+reason+")", err)
	}
	m.setState(StateDisconnected, "", "")
}

// handleSample routes one upstream sample through the cache and fans out
// resulting changes.
func (m *Manager) handleSample(s adapter.PointSample) {
	entry, changed := m.cache.OnPointChanged(s)
	if !changed {
		return
	}
	if m.onChange != nil {
		m.onChange(s.PointID, entry)
	}
}

func (m *Manager) setState(s State, endpoint, role string) {
	m.mu.Lock()
	m.state = s
	m.endpoint = endpoint
	m.role = role
	m.mu.Unlock()
}

func (m *Manager) notifyFault(text string) {
	if m.onFaultNotice != nil {
		m.onFaultNotice(text)
	}
}
