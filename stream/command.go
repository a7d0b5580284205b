package stream

import (
	"plantlink/cache"
	"plantlink/config"
	"plantlink/logging"
)

// WriteCommand is the inbound write request frame.
type WriteCommand struct {
	Type   string      `json:"type"`
	NodeID string      `json:"nodeId"`
	Value  interface{} `json:"value"`
}

// Write result status values.
const (
	StatusWriteSuccess = "write_success"
	StatusWriteError   = "write_error"
)

// WriteResult is the ack/error frame returned to the requesting client.
type WriteResult struct {
	Status string `json:"status"`
	NodeID string `json:"nodeId"`
	Error  string `json:"error,omitempty"`
}

// Upstream is what the router needs from the bridge: a liveness check and a
// bounded write.
type Upstream interface {
	SessionActive() bool
	Write(point config.Point, value interface{}) error
}

// CommandRouter validates write commands, forwards them upstream, and
// applies the optimistic cache update on success.
type CommandRouter struct {
	points   []config.Point
	cache    *cache.Cache
	upstream Upstream

	// broadcast publishes the optimistic value to all consumers after a
	// successful write.
	broadcast func(changes map[string]interface{})

	logFn LogFunc
}

// NewCommandRouter creates a router over the configured point set.
func NewCommandRouter(points []config.Point, c *cache.Cache, upstream Upstream,
	broadcast func(changes map[string]interface{})) *CommandRouter {
	return &CommandRouter{
		points:    points,
		cache:     c,
		upstream:  upstream,
		broadcast: broadcast,
		logFn:     func(format string, args ...interface{}) {},
	}
}

// SetLogFunc sets the operator log callback.
func (r *CommandRouter) SetLogFunc(fn LogFunc) {
	if fn != nil {
		r.logFn = fn
	}
}

// resolvePoint finds the target by point ID, falling back to the OPC UA node
// ID so consumers can address either way.
func (r *CommandRouter) resolvePoint(ref string) *config.Point {
	for i := range r.points {
		if r.points[i].ID == ref {
			return &r.points[i]
		}
	}
	for i := range r.points {
		if r.points[i].NodeID != "" && r.points[i].NodeID == ref {
			return &r.points[i]
		}
	}
	return nil
}

// HandleWrite runs the full write path: validate, coerce, check session,
// write upstream, optimistic cache update, broadcast. The cache is never
// touched on failure.
func (r *CommandRouter) HandleWrite(cmd WriteCommand) WriteResult {
	fail := func(reason string) WriteResult {
		logging.DebugLog("ws", "write to %q rejected: %s", cmd.NodeID, reason)
		return WriteResult{Status: StatusWriteError, NodeID: cmd.NodeID, Error: reason}
	}

	if cmd.NodeID == "" {
		return fail("missing nodeId")
	}

	point := r.resolvePoint(cmd.NodeID)
	if point == nil {
		return fail("unknown point")
	}
	if !point.Writable {
		return fail("point is not writable")
	}

	value, err := coerceValue(cmd.Value, point.DataType)
	if err != nil {
		return fail(err.Error())
	}

	if !r.upstream.SessionActive() {
		return fail("not connected")
	}

	if err := r.upstream.Write(*point, value); err != nil {
		r.logFn("Write to %s failed: %v", point.ID, err)
		return fail(err.Error())
	}

	entry, changed := r.cache.OptimisticSet(point.ID, value)
	if changed && r.broadcast != nil {
		r.broadcast(map[string]interface{}{point.ID: entry.Value})
	}

	r.logFn("Write to %s succeeded (%v)", point.ID, value)
	return WriteResult{Status: StatusWriteSuccess, NodeID: cmd.NodeID}
}
