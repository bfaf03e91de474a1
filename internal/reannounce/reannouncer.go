// Package reannounce keeps the time each blob should be announced again and feeds the
// blobs that are due to the announcer.
//
// DHT entries expire, so every blob this peer has must be announced periodically.
// The schedule is persisted in a Bolt database and indexed in memory by due time.
package reannounce

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/blobannounce/internal/logger"
)

// Scheduler is the announcer that due hashes are staged to.
type Scheduler interface {
	// AddHashesToAnnounce stages hashes for the next announce cycle.
	AddHashesToAnnounce(hashes []string)
	// NextAnnounceTime returns when n hashes staged now should be announced again.
	NextAnnounceTime(n int) time.Time
	// StagedSize returns the number of staged hashes not yet moved into the announce queue.
	StagedSize() int
}

// Config for Reannouncer.
type Config struct {
	// Time between checks for due hashes.
	CheckInterval time.Duration `yaml:"check_interval"`
	// Max number of hashes staged in a single check. Zero means no limit.
	MaxBatch int `yaml:"max_batch"`
}

// DefaultConfig for Reannouncer.
var DefaultConfig = Config{
	CheckInterval: time.Minute,
	MaxBatch:      10000,
}

// Reannouncer stages hashes to the Scheduler when their announce time comes.
type Reannouncer struct {
	db     *DB
	sched  Scheduler
	config Config
	clock  clock.Clock
	log    logger.Logger

	m       sync.Mutex
	index   *index
	records map[string]Record

	closeOnce sync.Once
	closeC    chan struct{}
	doneC     chan struct{}
}

// New loads the schedule from db and returns a Reannouncer. Call Start to run the check loop.
func New(db *DB, sched Scheduler, cfg Config, clk clock.Clock) (*Reannouncer, error) {
	if clk == nil {
		clk = clock.New()
	}
	r := &Reannouncer{
		db:      db,
		sched:   sched,
		config:  cfg,
		clock:   clk,
		log:     logger.New("reannouncer"),
		index:   newIndex(),
		records: make(map[string]Record),
		closeC:  make(chan struct{}),
	}
	err := db.ForEach(func(rec Record) error {
		r.records[rec.Hash] = rec
		r.index.Set(rec.Hash, rec.Next())
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Infof("Loaded %d hashes from schedule", r.index.Len())
	return r, nil
}

// Add schedules hashes to be announced on the next check.
// Hashes that are already scheduled keep their announce counts.
func (r *Reannouncer) Add(hashes []string) error {
	return r.Schedule(hashes, r.clock.Now())
}

// Schedule sets the next announce time of hashes to t.
func (r *Reannouncer) Schedule(hashes []string, t time.Time) error {
	r.m.Lock()
	defer r.m.Unlock()
	records := make([]Record, 0, len(hashes))
	for _, h := range hashes {
		rec := r.records[h]
		rec.Hash = h
		rec.NextAnnounce = t.Unix()
		records = append(records, rec)
	}
	err := r.db.Put(records...)
	if err != nil {
		return err
	}
	for _, rec := range records {
		r.records[rec.Hash] = rec
		r.index.Set(rec.Hash, rec.Next())
	}
	return nil
}

// Remove stops announcing hashes.
func (r *Reannouncer) Remove(hashes []string) error {
	r.m.Lock()
	defer r.m.Unlock()
	err := r.db.Delete(hashes...)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		delete(r.records, h)
		r.index.Remove(h)
	}
	return nil
}

// Len returns the number of scheduled hashes.
func (r *Reannouncer) Len() int {
	r.m.Lock()
	defer r.m.Unlock()
	return r.index.Len()
}

// NextDue returns the earliest announce time in the schedule. ok is false if the schedule is empty.
func (r *Reannouncer) NextDue() (t time.Time, ok bool) {
	r.m.Lock()
	defer r.m.Unlock()
	return r.index.Next()
}

// Record returns the schedule of hash.
func (r *Reannouncer) Record(hash string) (Record, bool) {
	r.m.Lock()
	defer r.m.Unlock()
	rec, ok := r.records[hash]
	return rec, ok
}

// Check stages the hashes that are due and moves their next announce time forward.
// It returns the number of staged hashes.
// Nothing is staged while hashes from a previous check are still waiting in the Scheduler.
func (r *Reannouncer) Check() (int, error) {
	r.m.Lock()
	defer r.m.Unlock()
	if n := r.sched.StagedSize(); n > 0 {
		r.log.Debugf("%d hashes are still staged, postponing check", n)
		return 0, nil
	}
	now := r.clock.Now()
	due := r.index.Due(now, r.config.MaxBatch)
	if len(due) == 0 {
		return 0, nil
	}
	next := r.sched.NextAnnounceTime(len(due))
	records := make([]Record, len(due))
	for i, h := range due {
		rec := r.records[h]
		rec.NextAnnounce = next.Unix()
		rec.LastAnnounce = now.Unix()
		rec.Announces++
		records[i] = rec
	}
	err := r.db.Put(records...)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		r.records[rec.Hash] = rec
		r.index.Set(rec.Hash, rec.Next())
	}
	r.sched.AddHashesToAnnounce(due)
	r.log.Infof("Staged %d hashes for announce, next announce at %s", len(due), next.Format(time.RFC3339))
	return len(due), nil
}

// Start runs the check loop in a new goroutine. It must be called at most once.
func (r *Reannouncer) Start() {
	r.doneC = make(chan struct{})
	go r.run(r.doneC)
}

// Close stops the check loop if it is started.
func (r *Reannouncer) Close() {
	r.closeOnce.Do(func() {
		close(r.closeC)
		if r.doneC != nil {
			<-r.doneC
		}
	})
}

func (r *Reannouncer) run(doneC chan struct{}) {
	defer close(doneC)

	ticker := r.clock.Ticker(r.config.CheckInterval)
	defer ticker.Stop()

	r.check()
	for {
		select {
		case <-ticker.C:
			r.check()
		case <-r.closeC:
			return
		}
	}
}

func (r *Reannouncer) check() {
	_, err := r.Check()
	if err != nil {
		r.log.Errorln("cannot check schedule:", err)
	}
}
