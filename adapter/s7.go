package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/robinson/gos7"

	"plantlink/config"
	"plantlink/logging"
)

const s7ConnectTimeout = 5 * time.Second

// S7Adapter talks to a Siemens S7 PLC over S7comm. The protocol has no
// server-side subscriptions, so the bridge polls via ReadOnce.
type S7Adapter struct {
	cfg *config.Config

	mu       sync.Mutex
	handler  *gos7.TCPClientHandler
	client   gos7.Client
	endpoint string

	eventHandler EventHandler
}

// NewS7Adapter creates an S7 adapter for the configured point set.
func NewS7Adapter(cfg *config.Config) *S7Adapter {
	return &S7Adapter{cfg: cfg}
}

// SetEventHandler registers the fault callback.
func (a *S7Adapter) SetEventHandler(h EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eventHandler = h
}

// SupportsSubscription is false: S7comm is request/response only.
func (a *S7Adapter) SupportsSubscription() bool { return false }

// Subscribe always fails; callers must poll via ReadOnce.
func (a *S7Adapter) Subscribe(points []config.Point, onChange ChangeHandler) error {
	return fmt.Errorf("s7 does not support subscriptions")
}

// Connect opens the ISO-on-TCP transport to the PLC.
func (a *S7Adapter) Connect(endpoint string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handler != nil {
		return fmt.Errorf("already connected to %s", a.endpoint)
	}

	logging.DebugConnect("s7", endpoint)

	handler := gos7.NewTCPClientHandler(endpoint, a.cfg.Upstream.Rack, a.cfg.Upstream.Slot)
	handler.Timeout = s7ConnectTimeout

	if err := handler.Connect(); err != nil {
		logging.DebugConnectError("s7", endpoint, err)
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	a.handler = handler
	a.client = gos7.NewClient(handler)
	a.endpoint = endpoint
	logging.DebugConnectSuccess("s7", endpoint,
		fmt.Sprintf("rack %d slot %d", a.cfg.Upstream.Rack, a.cfg.Upstream.Slot))
	return nil
}

// CreateSession probes the PLC with a one-byte read of the first configured
// point's data block. S7comm has no separate session layer beyond the
// transport, so a successful read is the session.
func (a *S7Adapter) CreateSession() error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}

	for i := range a.cfg.Points {
		p := &a.cfg.Points[i]
		if p.Address == nil {
			continue
		}
		buf := make([]byte, 1)
		if err := client.AGReadDB(p.Address.DB, p.Address.Start, 1, buf); err != nil {
			return fmt.Errorf("probe DB%d: %w", p.Address.DB, err)
		}
		logging.DebugLog("s7", "session probe ok on DB%d", p.Address.DB)
		return nil
	}

	// No addressable points configured; transport connectivity is all
	// there is to verify.
	return nil
}

// ReadOnce reads every point from its data block. Transport errors abort the
// sweep; decode problems degrade only the affected point.
func (a *S7Adapter) ReadOnce(points []config.Point) ([]PointSample, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	now := time.Now()
	samples := make([]PointSample, 0, len(points))
	for _, p := range points {
		if p.Address == nil {
			samples = append(samples, PointSample{PointID: p.ID, Quality: QualityBad, Timestamp: now})
			continue
		}

		size := p.Address.ByteSize(p.DataType)
		if size <= 0 {
			samples = append(samples, PointSample{PointID: p.ID, Quality: QualityBad, Timestamp: now})
			continue
		}

		buf := make([]byte, size)
		if err := client.AGReadDB(p.Address.DB, p.Address.Start, size, buf); err != nil {
			return nil, fmt.Errorf("read %s (DB%d.%d): %w", p.ID, p.Address.DB, p.Address.Start, err)
		}

		value, err := decodeS7Value(p.DataType, *p.Address, buf)
		if err != nil {
			logging.DebugError("s7", "decode "+p.ID, err)
			samples = append(samples, PointSample{PointID: p.ID, Quality: QualityUncertain, Timestamp: now})
			continue
		}

		samples = append(samples, PointSample{
			PointID:   p.ID,
			Value:     value,
			Quality:   QualityGood,
			Timestamp: now,
		})
	}
	return samples, nil
}

// WriteOne encodes the coerced value and writes it to the point's DB bytes.
// Boolean points use read-modify-write on their byte to preserve sibling
// bits.
func (a *S7Adapter) WriteOne(point config.Point, value interface{}) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}
	if point.Address == nil {
		return fmt.Errorf("point %s has no s7 address", point.ID)
	}

	addr := *point.Address

	if point.DataType == config.TypeBoolean {
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("point %s: expected bool, got %T", point.ID, value)
		}
		buf := make([]byte, 1)
		if err := client.AGReadDB(addr.DB, addr.Start, 1, buf); err != nil {
			return fmt.Errorf("read-modify %s: %w", point.ID, err)
		}
		if b {
			buf[0] |= 1 << addr.Bit
		} else {
			buf[0] &^= 1 << addr.Bit
		}
		if err := client.AGWriteDB(addr.DB, addr.Start, 1, buf); err != nil {
			return fmt.Errorf("write %s: %w", point.ID, err)
		}
		logging.DebugLog("s7", "wrote %s = %v (DB%d.%d bit %d)", point.ID, b, addr.DB, addr.Start, addr.Bit)
		return nil
	}

	buf, err := encodeS7Value(point.DataType, addr, value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", point.ID, err)
	}
	if err := client.AGWriteDB(addr.DB, addr.Start, len(buf), buf); err != nil {
		return fmt.Errorf("write %s: %w", point.ID, err)
	}

	logging.DebugLog("s7", "wrote %s = %v (DB%d.%d)", point.ID, value, addr.DB, addr.Start)
	return nil
}

// Close tears down the transport. Safe to call repeatedly.
func (a *S7Adapter) Close() error {
	a.mu.Lock()
	handler := a.handler
	endpoint := a.endpoint
	a.handler = nil
	a.client = nil
	a.endpoint = ""
	a.mu.Unlock()

	if handler == nil {
		return nil
	}

	logging.DebugDisconnect("s7", endpoint, "close requested")
	return handler.Close()
}
