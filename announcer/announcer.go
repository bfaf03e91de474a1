// Package announcer tells the DHT that this peer has certain blobs.
//
// Hashes are announced by a fixed number of concurrent announcers that drain a shared
// queue. Hashes can be announced immediately, jumping ahead of the queue, or staged to be
// moved into the queue by the next run of the manage loop.
package announcer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/blobannounce/internal/announcequeue"
	"github.com/cenkalti/blobannounce/internal/logger"
	"github.com/cenkalti/blobannounce/internal/rateestimator"
	"github.com/cenkalti/blobannounce/internal/storeretry"
)

// Announcer announces blob hashes to the DHT.
type Announcer struct {
	config  Config
	node    Node
	clock   clock.Clock
	log     logger.Logger
	retry   *storeretry.Controller
	rate    *rateestimator.Estimator
	metrics *announcerMetrics

	// mu is the coordination lock. It guards the queue and the fields below.
	// It is never held while talking to the DHT.
	mu                   sync.Mutex
	queue                *announcequeue.Queue[entry]
	progress             *rateestimator.Progress
	concurrentAnnouncers int

	mRun   sync.Mutex
	closeC chan struct{}
	doneC  chan struct{}
}

type entry struct {
	hash   string
	result *Result
}

// Option changes how the Announcer is created.
type Option func(*Announcer)

// WithClock sets the clock used for the manage loop and for scheduling reannounces.
func WithClock(c clock.Clock) Option {
	return func(a *Announcer) { a.clock = c }
}

// WithLogger sets the logger of the Announcer.
func WithLogger(l logger.Logger) Option {
	return func(a *Announcer) { a.log = l }
}

// New returns a new Announcer for the node. Call Start to run the manage loop.
func New(node Node, cfg Config, opts ...Option) (*Announcer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Announcer{
		config: cfg,
		node:   node,
		clock:  clock.New(),
		log:    logger.New("announcer"),
		rate:   rateestimator.New(cfg.DefaultSingleHashAnnounceDuration),
	}
	for _, o := range opts {
		o(a)
	}
	a.queue = announcequeue.New[entry](&a.mu)
	a.progress = rateestimator.NewProgress(a.rate, a.clock.Now(), 0)
	a.retry = storeretry.New(node.Store, cfg.StoreRetries, cfg.StoreRetryDelay, cfg.StoreRateLimit)
	a.initMetrics()
	return a, nil
}

// Start runs the manage loop in a new goroutine. It does nothing if the loop is already running.
func (a *Announcer) Start() {
	a.mRun.Lock()
	defer a.mRun.Unlock()
	if a.closeC != nil {
		return
	}
	a.log.Info("Starting hash announcer")
	a.closeC = make(chan struct{})
	a.doneC = make(chan struct{})
	go a.run(a.closeC, a.doneC)
}

// Stop the manage loop. It does nothing if the loop is not running.
// Announcers that are already running are not stopped; they finish the queue.
func (a *Announcer) Stop() {
	a.mRun.Lock()
	defer a.mRun.Unlock()
	if a.closeC == nil {
		return
	}
	a.log.Info("Stopping hash announcer")
	close(a.closeC)
	<-a.doneC
	a.closeC = nil
	a.doneC = nil
}

// Running returns true if the manage loop is running.
func (a *Announcer) Running() bool {
	a.mRun.Lock()
	defer a.mRun.Unlock()
	return a.closeC != nil
}

// Close stops the manage loop and releases metrics.
func (a *Announcer) Close() {
	a.Stop()
	a.metrics.Close()
}

// ImmediateAnnounce puts hashes at the front of the announce queue.
// If this node has no open port the returned Batch is already resolved and not attempted.
func (a *Announcer) ImmediateAnnounce(hashes []string) *Batch {
	if !a.node.HasOpenPort() {
		return newSkippedBatch()
	}
	return a.announceHashes(hashes, true)
}

// AddHashesToAnnounce stages hashes. They are moved into the announce queue by the next run of the manage loop.
func (a *Announcer) AddHashesToAnnounce(hashes []string) {
	a.queue.Stage(hashes...)
}

// HashQueueSize returns the number of hashes waiting in the announce queue.
// Staged hashes are not included.
func (a *Announcer) HashQueueSize() int {
	return a.queue.Len()
}

// StagedSize returns the number of hashes waiting for the next run of the manage loop.
func (a *Announcer) StagedSize() int {
	return a.queue.StagedLen()
}

// SingleHashAnnounceDuration returns the current estimate of the time it takes to announce one hash.
func (a *Announcer) SingleHashAnnounceDuration() time.Duration {
	return a.rate.Duration()
}

// NextAnnounceTime returns the time that n hashes added now should be reannounced.
//
// It is MinReannounceInterval from now unless the queue is long enough that
// announcing everything in it takes longer. In that case the reannounce is scheduled
// after a conservative estimate of when the queue is drained, so reannounces do not
// pile up in the queue.
func (a *Announcer) NextAnnounceTime(n int) time.Time {
	queueSize := a.HashQueueSize() + n
	reannounce := time.Duration(queueSize) * a.rate.Duration()
	if reannounce < a.config.MinReannounceInterval {
		reannounce = a.config.MinReannounceInterval
	}
	return a.clock.Now().Add(reannounce)
}
