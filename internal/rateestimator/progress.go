package rateestimator

import "time"

// Report describes the state of the batch currently being announced.
type Report struct {
	// Hashes left, including the ones being announced right now.
	Left int
	// Between 0 and 100.
	PercentComplete int
	// Estimated time to finish the batch.
	Remaining time.Duration
	// False when no hash has finished since the last observation
	// and Remaining comes from the Estimator instead of measured throughput.
	Measured bool
}

// Progress tracks throughput of the announce queue between observations.
// It is not safe for concurrent use.
type Progress struct {
	estimator *Estimator

	total      int
	lastTime   time.Time
	lastHashes int
}

// NewProgress returns a Progress that starts measuring at now.
// lastHashes is the initial depth the first observation is compared against.
func NewProgress(e *Estimator, now time.Time, lastHashes int) *Progress {
	return &Progress{
		estimator:  e,
		lastTime:   now,
		lastHashes: lastHashes,
	}
}

// Begin starts a new batch of n hashes if there is no batch in progress.
func (p *Progress) Begin(n int) {
	if p.total == 0 {
		p.total = n
	}
}

// Total returns the size of the batch in progress, 0 if there is none.
func (p *Progress) Total() int {
	return p.total
}

// Observe compares depth with the previous observation and reports progress.
// active is the number of hashes popped from the queue but not finished yet.
// When depth is 0 the batch is finished, the total is reset and ok is false.
func (p *Progress) Observe(now time.Time, depth, active int) (r Report, ok bool) {
	if depth == 0 {
		p.total = 0
		return r, false
	}
	elapsed := now.Sub(p.lastTime)
	done := p.lastHashes - depth
	r.Left = depth + active
	if p.total > 0 {
		r.PercentComplete = 100 - 100*r.Left/p.total
	}
	if r.PercentComplete < 0 {
		r.PercentComplete = 0
	} else if r.PercentComplete > 100 {
		r.PercentComplete = 100
	}
	if done > 0 && elapsed > 0 {
		perHash := elapsed / time.Duration(done)
		r.Remaining = time.Duration(depth) * perHash
		r.Measured = true
	} else {
		r.Remaining = p.estimator.EstimateRemaining(depth)
	}
	p.lastTime = now
	p.lastHashes = depth
	return r, true
}
