// Package rateestimator estimates how long announcing a single blob takes and tracks the
// progress of the blobs waiting in the announce queue.
package rateestimator

import (
	"sync"
	"time"
)

// Estimator keeps the current estimate of the time it takes to announce one hash.
// The estimate never goes below the minimum given to New.
type Estimator struct {
	min time.Duration

	m        sync.RWMutex
	duration time.Duration
}

// New returns an Estimator that starts at min.
func New(min time.Duration) *Estimator {
	return &Estimator{
		min:      min,
		duration: min,
	}
}

// Record sets the duration of announcing a single hash, floored at the minimum.
func (e *Estimator) Record(perHash time.Duration) {
	if perHash < e.min {
		perHash = e.min
	}
	e.m.Lock()
	e.duration = perHash
	e.m.Unlock()
}

// Duration returns the current estimate for a single hash.
func (e *Estimator) Duration() time.Duration {
	e.m.RLock()
	defer e.m.RUnlock()
	return e.duration
}

// EstimateRemaining returns the time it takes to announce n hashes at the current estimate.
func (e *Estimator) EstimateRemaining(n int) time.Duration {
	return time.Duration(n) * e.Duration()
}
