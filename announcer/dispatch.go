package announcer

import (
	"context"
	"time"
)

func (a *Announcer) announceHashes(hashes []string, immediate bool) *Batch {
	if len(hashes) == 0 {
		return newSkippedBatch()
	}
	if !a.node.CanStore() {
		a.log.Warning("Client only DHT node cannot store, skipping announce")
		return newSkippedBatch()
	}
	start := a.clock.Now()

	entries := make([]entry, len(hashes))
	results := make([]*Result, len(hashes))
	for i, h := range hashes {
		results[i] = newResult(h)
		entries[i] = entry{hash: h, result: results[i]}
	}
	b := newBatch(results)
	a.log.Infof("Announcing %d hashes (batch %s)", len(hashes), b.ID)

	var depth int
	if immediate {
		depth = a.queue.PushFront(entries...)
	} else {
		depth = a.queue.PushBack(entries...)
	}
	a.mu.Lock()
	a.progress.Begin(len(hashes))
	a.mu.Unlock()
	a.log.Debugf("There are now %d hashes remaining to be announced", depth)

	a.spawnAnnouncers()
	go a.waitBatch(b, start)
	return b
}

func (a *Announcer) waitBatch(b *Batch, start time.Time) {
	for _, r := range b.results {
		<-r.Done()
	}
	b.finish()
	elapsed := a.clock.Since(start)
	a.log.Infof("Took %s to announce %d hashes (batch %s)", elapsed, len(b.results), b.ID)
	a.rate.Record(elapsed / time.Duration(len(b.results)))
}

// spawnAnnouncers starts new announcers until ConcurrentAnnouncers are running
// or there is one announcer for each hash in the queue.
func (a *Announcer) spawnAnnouncers() {
	depth := a.queue.Len()
	a.mu.Lock()
	n := a.config.ConcurrentAnnouncers - a.concurrentAnnouncers
	if n > depth {
		n = depth
	}
	if n <= 0 {
		a.mu.Unlock()
		return
	}
	a.concurrentAnnouncers += n
	a.mu.Unlock()
	a.log.Debugf("Starting %d announcers", n)
	for i := 0; i < n; i++ {
		go a.announcer()
	}
}

// announcer announces hashes one by one until the queue is empty or the DHT returns an error.
func (a *Announcer) announcer() {
	defer a.releaseAnnouncer()
	var announced int
	for {
		e, ok := a.queue.PopFront()
		if !ok {
			return
		}
		if e.result.resolved() {
			continue
		}
		a.log.Debugf("Announcing blob %s to dht", shortHash(e.hash))
		peers, err := a.store(e.hash)
		e.result.resolve(peers, err)
		if err != nil {
			a.log.Errorf("Cannot announce blob %s: %s", shortHash(e.hash), err)
			return
		}
		announced++
		a.log.Debugf("Stored %s to %d peers (hashes announced by this announcer: %d)", shortHash(e.hash), len(peers), announced)
	}
}

func (a *Announcer) releaseAnnouncer() {
	a.mu.Lock()
	a.concurrentAnnouncers--
	a.mu.Unlock()
	// A hash pushed after this announcer saw the empty queue may have found all announcers busy.
	if a.queue.Len() > 0 {
		a.spawnAnnouncers()
	}
}

func (a *Announcer) store(hash string) ([]string, error) {
	start := time.Now()
	res, err := a.retry.Store(context.Background(), hash)
	a.metrics.StoreDuration.Update(int64(time.Since(start) / time.Millisecond))
	a.metrics.StoreAttempts.Inc(int64(res.Attempts))
	if err != nil {
		a.metrics.Faults.Inc(1)
		return nil, err
	}
	if res.Exhausted() {
		a.metrics.Exhausted.Inc(1)
		a.log.Warningf("No nodes stored %s", hash)
	} else {
		a.metrics.Announced.Mark(1)
	}
	return res.Peers, nil
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
