package bridge

import (
	"context"
	"sync"
	"time"

	"plantlink/adapter"
	"plantlink/config"
	"plantlink/logging"
)

// subscriptionRunner keeps change delivery alive for one connection cycle.
// Native-push adapters get a real subscription; the rest get a fixed-rate
// poll loop over ReadOnce. Both paths feed the same sample callback.
type subscriptionRunner struct {
	adapter  adapter.ProtocolAdapter
	points   []config.Point
	pollRate time.Duration
	onSample func(adapter.PointSample)
	onFault  func(error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSubscriptionRunner(a adapter.ProtocolAdapter, points []config.Point, pollRate time.Duration,
	onSample func(adapter.PointSample), onFault func(error)) *subscriptionRunner {
	return &subscriptionRunner{
		adapter:  a,
		points:   points,
		pollRate: pollRate,
		onSample: onSample,
		onFault:  onFault,
	}
}

// Start begins change delivery. An empty point set is a healthy no-op: the
// bridge stays connected for writes and health reporting.
func (r *subscriptionRunner) Start() error {
	if len(r.points) == 0 {
		logging.DebugLog("bridge", "no points configured, skipping subscription")
		return nil
	}

	if r.adapter.SupportsSubscription() {
		return r.adapter.Subscribe(r.points, r.onSample)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go r.pollLoop(ctx)
	return nil
}

// pollLoop reads the full point set at the configured rate. A transport
// failure degrades every point to uncertain, reports the fault once, and
// exits; the control loop owns the reconnect from there.
func (r *subscriptionRunner) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollRate)
	defer ticker.Stop()

	// Prime the cache before the first tick so clients don't wait a full
	// poll interval for their snapshot to fill.
	if !r.pollOnce() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.pollOnce() {
				return
			}
		}
	}
}

func (r *subscriptionRunner) pollOnce() bool {
	samples, err := r.adapter.ReadOnce(r.points)
	if err != nil {
		logging.DebugError("bridge", "poll", err)
		now := time.Now()
		for _, p := range r.points {
			r.onSample(adapter.PointSample{PointID: p.ID, Quality: adapter.QualityUncertain, Timestamp: now})
		}
		r.onFault(err)
		return false
	}

	for _, s := range samples {
		r.onSample(s)
	}
	return true
}

// Stop halts the poll loop if one is running. Native subscriptions are torn
// down by adapter.Close.
func (r *subscriptionRunner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
