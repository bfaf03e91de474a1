// Package storeretry stores a single blob hash in the DHT, retrying when no peer accepts it.
package storeretry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/cenkalti/blobannounce/internal/blobhash"
	"github.com/juju/ratelimit"
)

// StoreFunc stores blobHash in the DHT and returns the ids of the peers that accepted it.
type StoreFunc func(ctx context.Context, blobHash []byte) ([]string, error)

// Result of a Store call.
type Result struct {
	// Peers that accepted the hash. Empty when all retries are exhausted.
	Peers []string
	// Number of times StoreFunc was called.
	Attempts int
}

// Exhausted returns true if no peer accepted the hash.
func (r Result) Exhausted() bool {
	return len(r.Peers) == 0
}

var errNoPeers = errors.New("no peers stored the hash")

// Controller calls a StoreFunc with a bounded number of retries.
type Controller struct {
	store   StoreFunc
	retries int
	delay   time.Duration
	bucket  *ratelimit.Bucket
}

// New returns a Controller that retries an empty store result up to retries times.
// delay is the wait between attempts. rate is the maximum number of attempts per second
// across all callers of the Controller, 0 means unlimited.
func New(store StoreFunc, retries int, delay time.Duration, rate float64) *Controller {
	c := &Controller{
		store:   store,
		retries: retries,
		delay:   delay,
	}
	if rate > 0 {
		capacity := int64(rate)
		if capacity < 1 {
			capacity = 1
		}
		c.bucket = ratelimit.NewBucketWithRate(rate, capacity)
	}
	return c
}

func (c *Controller) backOff(ctx context.Context) backoff.BackOff {
	if c.retries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if c.delay > 0 {
		b = backoff.NewConstantBackOff(c.delay)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx)
}

// Store announces the hex encoded hash. Each empty result is retried as a fresh attempt.
// When retries are exhausted an empty Result is returned with nil error.
// Errors from decoding the hash or from the StoreFunc are returned without retrying.
func (c *Controller) Store(ctx context.Context, hash string) (Result, error) {
	var res Result
	b, err := blobhash.Decode(hash)
	if err != nil {
		return res, err
	}
	operation := func() error {
		if c.bucket != nil {
			c.bucket.Wait(1)
		}
		res.Attempts++
		peers, err := c.store(ctx, b)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(peers) == 0 {
			return errNoPeers
		}
		res.Peers = peers
		return nil
	}
	err = backoff.Retry(operation, c.backOff(ctx))
	if err == errNoPeers {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Peers = []string{}
		return res, nil
	}
	return res, err
}
