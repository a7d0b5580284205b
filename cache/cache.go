// Package cache holds the last known value per monitored point. It applies
// the point's display scaling once, on the way in, and answers snapshot and
// change queries for the fan-out paths.
package cache

import (
	"fmt"
	"math"
	"sync"
	"time"

	"plantlink/adapter"
	"plantlink/config"
)

// Source records how an entry got its value.
type Source string

const (
	SourceSubscription Source = "subscription"
	SourceWrite        Source = "write"
)

// Entry is the cached state of one point.
type Entry struct {
	Value     interface{}
	Quality   adapter.Quality
	Timestamp time.Time
	Source    Source
}

// Cache is the single writer for point values. All mutations flow through
// OnPointChanged or OptimisticSet.
type Cache struct {
	points  map[string]config.Point
	order   []string // configured point order, for stable listings
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates a cache for the configured point set. Points never exist in
// the cache until their first sample arrives.
func New(points []config.Point) *Cache {
	c := &Cache{
		points:  make(map[string]config.Point, len(points)),
		order:   make([]string, 0, len(points)),
		entries: make(map[string]Entry, len(points)),
	}
	for _, p := range points {
		c.points[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// OnPointChanged ingests a sample from the upstream subscription or poll
// path. It scales the raw value, stores it, and reports whether the entry
// changed (value or quality) relative to what was cached.
func (c *Cache) OnPointChanged(sample adapter.PointSample) (Entry, bool) {
	return c.set(sample.PointID, sample.Value, sample.Quality, sample.Timestamp, SourceSubscription)
}

// OptimisticSet records a successfully written value without waiting for the
// upstream to echo it back. It runs through the same scaling and change
// detection as subscription data.
func (c *Cache) OptimisticSet(pointID string, value interface{}) (Entry, bool) {
	return c.set(pointID, value, adapter.QualityGood, time.Now(), SourceWrite)
}

func (c *Cache) set(pointID string, raw interface{}, q adapter.Quality, ts time.Time, src Source) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.points[pointID]
	if !ok {
		return Entry{}, false
	}

	entry := Entry{
		Value:     scaleValue(&p, raw),
		Quality:   q,
		Timestamp: ts,
		Source:    src,
	}

	prev, exists := c.entries[pointID]

	// A degraded sample without a payload keeps the last known value; only
	// the quality moves.
	if raw == nil && exists && q != adapter.QualityGood {
		entry.Value = prev.Value
	}

	c.entries[pointID] = entry

	if !exists {
		return entry, true
	}
	// Quality transitions always count as changes so consumers see
	// staleness even when the value holds steady.
	if prev.Quality != entry.Quality {
		return entry, true
	}
	return entry, !valuesEqual(prev.Value, entry.Value)
}

// Get returns the cached entry for a point.
func (c *Cache) Get(pointID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[pointID]
	return e, ok
}

// Snapshot returns a copy of every cached entry. The copy is safe to iterate
// while the cache keeps updating.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Entry, len(c.entries))
	for id, e := range c.entries {
		out[id] = e
	}
	return out
}

// Values returns a copy of the cached values only, keyed by point ID. This
// is the shape the WebSocket snapshot frame carries.
func (c *Cache) Values() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]interface{}, len(c.entries))
	for id, e := range c.entries {
		out[id] = e.Value
	}
	return out
}

// PointIDs returns the configured point IDs in declaration order.
func (c *Cache) PointIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Point returns the configuration for a point ID.
func (c *Cache) Point(pointID string) (config.Point, bool) {
	p, ok := c.points[pointID]
	return p, ok
}

// scaleValue applies the point's factor and precision to a raw numeric
// value. Non-numeric values pass through untouched. Integer declared types
// without a factor keep their raw representation.
func scaleValue(p *config.Point, raw interface{}) interface{} {
	f, ok := toFloat64(raw)
	if !ok {
		return raw
	}

	if p.DataType.IsInteger() && p.Factor == 0 {
		return raw
	}

	scaled := f * p.EffectiveFactor()
	if scaled == math.Trunc(scaled) && !math.IsInf(scaled, 0) {
		return int64(scaled)
	}

	pow := math.Pow(10, float64(p.EffectivePrecision()))
	return math.Round(scaled*pow) / pow
}

// toFloat64 widens any numeric value to float64.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// valuesEqual compares cached values by their printed form, which is cheap
// and handles the mixed numeric types that come out of the adapters.
func valuesEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
