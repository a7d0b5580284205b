package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/monitor"
	"github.com/gopcua/opcua/ua"

	"plantlink/config"
	"plantlink/logging"
)

// serverStateNode is the well-known Server_ServerStatus_State node, read as
// a session liveness probe.
const serverStateNode = "ns=0;i=2259"

const (
	connectTimeout    = 10 * time.Second
	requestTimeout    = 5 * time.Second
	keepaliveInterval = 5 * time.Second
)

// keepaliveFailLimit is the number of consecutive probe failures tolerated
// before the session is reported dead.
const keepaliveFailLimit = 2

// OPCUAAdapter talks to an OPC UA server. Change delivery uses a native
// subscription with a monitored item per point.
type OPCUAAdapter struct {
	cfg *config.Config

	mu        sync.Mutex
	client    *opcua.Client
	endpoint  string
	sub       *monitor.Subscription
	subCancel context.CancelFunc
	subWG     sync.WaitGroup
	kaCancel  context.CancelFunc
	kaWG      sync.WaitGroup

	eventHandler EventHandler
}

// NewOPCUAAdapter creates an OPC UA adapter for the configured point set.
func NewOPCUAAdapter(cfg *config.Config) *OPCUAAdapter {
	return &OPCUAAdapter{cfg: cfg}
}

// SetEventHandler registers the fault callback.
func (a *OPCUAAdapter) SetEventHandler(h EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eventHandler = h
}

// SupportsSubscription is true: OPC UA pushes changes natively.
func (a *OPCUAAdapter) SupportsSubscription() bool { return true }

func (a *OPCUAAdapter) emit(kind EventKind, err error) {
	a.mu.Lock()
	h := a.eventHandler
	a.mu.Unlock()

	logging.DebugError("opcua", kind.String(), err)
	if h != nil {
		h(UpstreamEvent{Kind: kind, Err: err})
	}
}

// Connect opens the secure channel to the given endpoint.
func (a *OPCUAAdapter) Connect(endpoint string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return fmt.Errorf("already connected to %s", a.endpoint)
	}

	logging.DebugConnect("opcua", endpoint)

	opts := []opcua.Option{
		opcua.SecurityMode(ua.MessageSecurityModeNone),
		opcua.SecurityPolicy("None"),
		opcua.AutoReconnect(false),
		opcua.RequestTimeout(requestTimeout),
	}
	if a.cfg.Upstream.SessionTimeout > 0 {
		opts = append(opts, opcua.SessionTimeout(a.cfg.Upstream.SessionTimeout))
	}

	client, err := opcua.NewClient(endpoint, opts...)
	if err != nil {
		return fmt.Errorf("create client for %s: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		logging.DebugConnectError("opcua", endpoint, err)
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	a.client = client
	a.endpoint = endpoint
	logging.DebugConnectSuccess("opcua", endpoint, "secure channel open")
	return nil
}

// CreateSession verifies the session activated during Connect by reading the
// server state node, then starts the keepalive probe.
func (a *OPCUAAdapter) CreateSession() error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}

	if err := a.probeServerState(client); err != nil {
		return fmt.Errorf("verify session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.kaCancel = cancel
	a.mu.Unlock()

	a.kaWG.Add(1)
	go a.keepaliveLoop(ctx, client)

	logging.DebugLog("opcua", "session active on %s", a.endpoint)
	return nil
}

func (a *OPCUAAdapter) probeServerState(client *opcua.Client) error {
	id, err := ua.ParseNodeID(serverStateNode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: id, AttributeID: ua.AttributeIDValue},
		},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	})
	if err != nil {
		return err
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("empty read response")
	}
	if resp.Results[0].Status != ua.StatusOK {
		return fmt.Errorf("server state read status %v", resp.Results[0].Status)
	}
	return nil
}

// keepaliveLoop probes the server state node until cancelled. Consecutive
// failures past the limit report a keepalive failure event once, then the
// loop exits; the bridge owns the reconnect from there.
func (a *OPCUAAdapter) keepaliveLoop(ctx context.Context, client *opcua.Client) {
	defer a.kaWG.Done()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.probeServerState(client); err != nil {
				failures++
				logging.DebugLog("opcua", "keepalive miss %d/%d: %v", failures, keepaliveFailLimit, err)
				if failures >= keepaliveFailLimit {
					a.emit(EventKeepaliveFailure, err)
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

// Subscribe creates one monitored item per point on a single subscription
// and dispatches change notifications to onChange.
func (a *OPCUAAdapter) Subscribe(points []config.Point, onChange ChangeHandler) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}
	if len(points) == 0 {
		return nil
	}

	byNode := make(map[string]config.Point, len(points))
	nodeIDs := make([]string, 0, len(points))
	for _, p := range points {
		id, err := ua.ParseNodeID(p.NodeID)
		if err != nil {
			return fmt.Errorf("point %s: bad node id %q: %w", p.ID, p.NodeID, err)
		}
		key := id.String()
		byNode[key] = p
		nodeIDs = append(nodeIDs, key)
	}

	m, err := monitor.NewNodeMonitor(client)
	if err != nil {
		return fmt.Errorf("create node monitor: %w", err)
	}
	m.SetErrorHandler(func(_ *opcua.Client, _ *monitor.Subscription, err error) {
		a.emit(EventSubscriptionTerminated, err)
	})

	interval := a.cfg.Upstream.PublishInterval
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *monitor.DataChangeMessage, 64)

	sub, err := m.ChanSubscribe(ctx, &opcua.SubscriptionParameters{Interval: interval}, ch, nodeIDs...)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %d points: %w", len(points), err)
	}

	a.mu.Lock()
	a.sub = sub
	a.subCancel = cancel
	a.mu.Unlock()

	a.subWG.Add(1)
	go a.dispatchLoop(ctx, ch, byNode, onChange)

	logging.DebugLog("opcua", "subscribed %d points at %s interval", len(points), interval)
	return nil
}

func (a *OPCUAAdapter) dispatchLoop(ctx context.Context, ch <-chan *monitor.DataChangeMessage, byNode map[string]config.Point, onChange ChangeHandler) {
	defer a.subWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			if msg.Error != nil {
				logging.DebugError("opcua", "data change", msg.Error)
				continue
			}

			point, ok := byNode[msg.NodeID.String()]
			if !ok {
				continue
			}

			ts := msg.SourceTimestamp
			if ts.IsZero() {
				ts = time.Now()
			}

			onChange(PointSample{
				PointID:   point.ID,
				Value:     msg.Value.Value(),
				Quality:   qualityFromStatus(msg.Status),
				Timestamp: ts,
			})
		}
	}
}

// ReadOnce reads the current value attribute of every point in one request.
func (a *OPCUAAdapter) ReadOnce(points []config.Point) ([]PointSample, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}
	if len(points) == 0 {
		return nil, nil
	}

	nodes := make([]*ua.ReadValueID, 0, len(points))
	for _, p := range points {
		id, err := ua.ParseNodeID(p.NodeID)
		if err != nil {
			return nil, fmt.Errorf("point %s: bad node id %q: %w", p.ID, p.NodeID, err)
		}
		nodes = append(nodes, &ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := client.Read(ctx, &ua.ReadRequest{
		NodesToRead:        nodes,
		TimestampsToReturn: ua.TimestampsToReturnSource,
	})
	if err != nil {
		return nil, fmt.Errorf("read %d points: %w", len(points), err)
	}
	if len(resp.Results) != len(points) {
		return nil, fmt.Errorf("read returned %d results for %d points", len(resp.Results), len(points))
	}

	now := time.Now()
	samples := make([]PointSample, 0, len(points))
	for i, dv := range resp.Results {
		s := PointSample{
			PointID:   points[i].ID,
			Quality:   qualityFromStatus(dv.Status),
			Timestamp: now,
		}
		if !dv.SourceTimestamp.IsZero() {
			s.Timestamp = dv.SourceTimestamp
		}
		if dv.Value != nil {
			s.Value = dv.Value.Value()
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// WriteOne writes a single coerced value to the point's value attribute.
func (a *OPCUAAdapter) WriteOne(point config.Point, value interface{}) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}

	id, err := ua.ParseNodeID(point.NodeID)
	if err != nil {
		return fmt.Errorf("bad node id %q: %w", point.NodeID, err)
	}

	variant, err := ua.NewVariant(value)
	if err != nil {
		return fmt.Errorf("encode %v for %s: %w", value, point.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := client.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      id,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        variant,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", point.ID, err)
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("write %s: empty response", point.ID)
	}
	if resp.Results[0] != ua.StatusOK {
		return fmt.Errorf("write %s rejected: %v", point.ID, resp.Results[0])
	}

	logging.DebugLog("opcua", "wrote %s = %v", point.ID, value)
	return nil
}

// Close tears down subscription, keepalive, and the secure channel.
func (a *OPCUAAdapter) Close() error {
	a.mu.Lock()
	client := a.client
	sub := a.sub
	subCancel := a.subCancel
	kaCancel := a.kaCancel
	endpoint := a.endpoint
	a.client = nil
	a.sub = nil
	a.subCancel = nil
	a.kaCancel = nil
	a.endpoint = ""
	a.mu.Unlock()

	if kaCancel != nil {
		kaCancel()
	}
	if subCancel != nil {
		subCancel()
	}
	a.kaWG.Wait()
	a.subWG.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if sub != nil {
		sub.Unsubscribe(ctx) // best effort, channel may already be gone
	}

	if client == nil {
		return nil
	}

	logging.DebugDisconnect("opcua", endpoint, "close requested")
	return client.Close(ctx)
}

// qualityFromStatus maps an OPC UA status code severity to a sample quality.
func qualityFromStatus(s ua.StatusCode) Quality {
	switch {
	case s == ua.StatusOK:
		return QualityGood
	case uint32(s)&0x80000000 != 0:
		return QualityBad
	case uint32(s)&0x40000000 != 0:
		return QualityUncertain
	}
	return QualityGood
}
