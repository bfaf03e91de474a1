package announcer

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

type announcerMetrics struct {
	registry metrics.Registry

	QueueDepth         metrics.Gauge
	Staged             metrics.Gauge
	ActiveAnnouncers   metrics.Gauge
	SingleHashDuration metrics.Gauge
	Announced          metrics.Meter
	StoreAttempts      metrics.Counter
	Exhausted          metrics.Counter
	Faults             metrics.Counter
	StoreDuration      metrics.Histogram
}

func (a *Announcer) initMetrics() {
	r := metrics.NewRegistry()
	a.metrics = &announcerMetrics{
		registry: r,

		QueueDepth: metrics.NewRegisteredFunctionalGauge("queue_depth", r, func() int64 { return int64(a.queue.Len()) }),
		Staged:     metrics.NewRegisteredFunctionalGauge("staged", r, func() int64 { return int64(a.queue.StagedLen()) }),
		ActiveAnnouncers: metrics.NewRegisteredFunctionalGauge("active_announcers", r, func() int64 {
			a.mu.Lock()
			defer a.mu.Unlock()
			return int64(a.concurrentAnnouncers)
		}),
		SingleHashDuration: metrics.NewRegisteredFunctionalGauge("single_hash_duration_ms", r, func() int64 {
			return int64(a.rate.Duration() / time.Millisecond)
		}),
		Announced:     metrics.NewRegisteredMeter("announced", r),
		StoreAttempts: metrics.NewRegisteredCounter("store_attempts", r),
		Exhausted:     metrics.NewRegisteredCounter("exhausted", r),
		Faults:        metrics.NewRegisteredCounter("faults", r),
		StoreDuration: metrics.NewRegisteredHistogram("store_duration_ms", r, metrics.NewExpDecaySample(1028, 0.015)),
	}
}

func (m *announcerMetrics) Close() {
	m.Announced.Stop()
}

// Metrics returns the registry that holds the metrics of the Announcer.
func (a *Announcer) Metrics() metrics.Registry {
	return a.metrics.registry
}
