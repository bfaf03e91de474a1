package announcer

import "time"

func (a *Announcer) run(closeC, doneC chan struct{}) {
	defer close(doneC)

	ticker := a.clock.Ticker(a.config.AnnounceCheckInterval)
	defer ticker.Stop()

	a.manage()
	for {
		select {
		case <-ticker.C:
			a.manage()
		case <-closeC:
			return
		}
	}
}

// manage reports progress and, if this node is reachable, announces staged hashes.
func (a *Announcer) manage() {
	a.logProgress()
	if !a.node.HasOpenPort() {
		a.log.Debugln("No open port, skipping announce")
		return
	}
	a.announceAvailableHashes()
}

func (a *Announcer) logProgress() {
	now := a.clock.Now()
	depth := a.queue.Len()
	a.mu.Lock()
	r, ok := a.progress.Observe(now, depth, a.concurrentAnnouncers)
	a.mu.Unlock()
	if !ok {
		return
	}
	remaining := r.Remaining.Truncate(time.Second).String()
	if !r.Measured {
		remaining = "~" + remaining
	}
	a.log.Infof("Announcing blobs: %d blobs left to announce, %d%% complete, est time remaining: %s",
		r.Left, r.PercentComplete, remaining)
}

func (a *Announcer) announceAvailableHashes() {
	a.log.Debugln("Announcing available hashes")
	hashes := a.queue.DrainStaged()
	if len(hashes) > 0 {
		a.announceHashes(hashes, false)
	}
	// Announcers stop on DHT errors. Restart them for the hashes left in the queue.
	if a.node.CanStore() {
		a.spawnAnnouncers()
	}
}
