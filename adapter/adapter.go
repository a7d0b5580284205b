// Package adapter defines the protocol adapter boundary between the bridge
// and the upstream data source, plus the concrete OPC UA and S7 adapters.
package adapter

import (
	"fmt"
	"time"

	"plantlink/config"
)

// Quality indicates how trustworthy a sample is.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
)

// PointSample is one observed value for a monitored point.
type PointSample struct {
	PointID   string
	Value     interface{}
	Quality   Quality
	Timestamp time.Time
}

// EventKind classifies asynchronous upstream faults.
type EventKind int

const (
	EventConnectionLost EventKind = iota
	EventSessionClosed
	EventKeepaliveFailure
	EventSubscriptionTerminated
)

// String returns a short label for logging.
func (k EventKind) String() string {
	switch k {
	case EventConnectionLost:
		return "connection lost"
	case EventSessionClosed:
		return "session closed"
	case EventKeepaliveFailure:
		return "keepalive failure"
	case EventSubscriptionTerminated:
		return "subscription terminated"
	}
	return "unknown"
}

// UpstreamEvent is an asynchronous fault report from an adapter. Adapters
// deliver events on their own goroutines; handlers must not block.
type UpstreamEvent struct {
	Kind EventKind
	Err  error
}

// EventHandler receives asynchronous upstream fault events.
type EventHandler func(UpstreamEvent)

// ChangeHandler receives value samples from a native subscription.
type ChangeHandler func(PointSample)

// ProtocolAdapter is the transport-neutral upstream contract. The bridge's
// control loop owns Connect/CreateSession/Subscribe/Close; WriteOne and
// ReadOnce may be called concurrently with an active subscription.
type ProtocolAdapter interface {
	// Connect establishes the transport to the given endpoint address.
	Connect(endpoint string) error

	// CreateSession establishes (or verifies) an application session on the
	// connected transport. Must be called after Connect.
	CreateSession() error

	// Subscribe starts native change notifications for the given points.
	// Only valid when SupportsSubscription returns true.
	Subscribe(points []config.Point, onChange ChangeHandler) error

	// ReadOnce reads the current value of every given point. A non-nil error
	// means the transport itself failed; per-point faults come back as
	// samples with degraded quality.
	ReadOnce(points []config.Point) ([]PointSample, error)

	// WriteOne writes a value (already coerced to the point's declared type)
	// to a single point.
	WriteOne(point config.Point, value interface{}) error

	// Close tears down the session and transport. Safe to call repeatedly.
	Close() error

	// SupportsSubscription reports whether the adapter pushes changes
	// natively. When false the bridge polls via ReadOnce.
	SupportsSubscription() bool

	// SetEventHandler registers the fault callback. Must be set before
	// Connect.
	SetEventHandler(h EventHandler)
}

// New builds the adapter selected by the upstream config.
func New(cfg *config.Config) (ProtocolAdapter, error) {
	switch cfg.Upstream.Backend {
	case config.BackendOPCUA:
		return NewOPCUAAdapter(cfg), nil
	case config.BackendS7:
		return NewS7Adapter(cfg), nil
	}
	return nil, fmt.Errorf("unknown upstream backend %q", cfg.Upstream.Backend)
}
