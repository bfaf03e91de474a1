package announcer

import "time"

// Stats contains statistics about the Announcer.
type Stats struct {
	Running bool
	// Hashes waiting in the announce queue.
	QueueDepth int
	// Hashes waiting for the next run of the manage loop.
	Staged int
	// Announcers that are currently storing hashes.
	ActiveAnnouncers int
	// Number of hashes in the batch currently being announced.
	BatchTotal int
	// Estimated time to announce a single hash.
	SingleHashAnnounceDuration time.Duration
	// Hashes stored to at least one peer.
	Announced int64
	// Hashes no peer accepted after all retries.
	Exhausted int64
	// Hashes failed with an error from the DHT.
	Faults        int64
	StoreAttempts int64
}

// Stats returns a snapshot of the Announcer state.
func (a *Announcer) Stats() Stats {
	s := Stats{
		Running:                    a.Running(),
		QueueDepth:                 a.queue.Len(),
		Staged:                     a.queue.StagedLen(),
		SingleHashAnnounceDuration: a.rate.Duration(),
		Announced:                  a.metrics.Announced.Count(),
		Exhausted:                  a.metrics.Exhausted.Count(),
		Faults:                     a.metrics.Faults.Count(),
		StoreAttempts:              a.metrics.StoreAttempts.Count(),
	}
	a.mu.Lock()
	s.ActiveAnnouncers = a.concurrentAnnouncers
	s.BatchTotal = a.progress.Total()
	a.mu.Unlock()
	return s
}
