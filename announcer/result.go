package announcer

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"go.uber.org/multierr"
)

// Result of announcing a single hash. It is resolved exactly once.
type Result struct {
	Hash string

	once  sync.Once
	doneC chan struct{}
	peers []string
	err   error
}

func newResult(hash string) *Result {
	return &Result{
		Hash:  hash,
		doneC: make(chan struct{}),
	}
}

// resolve sets the outcome of the announce. Calls after the first one are ignored.
func (r *Result) resolve(peers []string, err error) {
	r.once.Do(func() {
		r.peers = peers
		r.err = err
		close(r.doneC)
	})
}

func (r *Result) resolved() bool {
	select {
	case <-r.doneC:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the hash is announced or failed.
func (r *Result) Done() <-chan struct{} {
	return r.doneC
}

// Peers that stored the hash. Empty if store retries are exhausted.
// Must be called after Done is closed.
func (r *Result) Peers() []string {
	return r.peers
}

// Err returns the error from the DHT layer, if any.
// Must be called after Done is closed.
func (r *Result) Err() error {
	return r.err
}

// Wait blocks until the Result is resolved or ctx is done.
func (r *Result) Wait(ctx context.Context) ([]string, error) {
	select {
	case <-r.doneC:
		return r.peers, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Batch is the group of hashes submitted together with ImmediateAnnounce.
type Batch struct {
	// ID is used to match log messages with the batch.
	ID string

	results   []*Result
	attempted bool
	doneC     chan struct{}
	stored    map[string][]string
	err       error
}

func newBatch(results []*Result) *Batch {
	return &Batch{
		ID:        newBatchID(),
		results:   results,
		attempted: true,
		doneC:     make(chan struct{}),
	}
}

// newSkippedBatch returns a resolved Batch for hashes that are not announced.
func newSkippedBatch() *Batch {
	b := &Batch{
		doneC:  make(chan struct{}),
		stored: make(map[string][]string),
	}
	close(b.doneC)
	return b
}

func newBatchID() string {
	u, err := uuid.NewV1()
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(u[:])
}

// finish collects the results. Must be called after all results are resolved.
func (b *Batch) finish() {
	b.stored = make(map[string][]string, len(b.results))
	for _, r := range b.results {
		if r.err != nil {
			b.err = multierr.Append(b.err, fmt.Errorf("%s: %w", r.Hash, r.err))
			continue
		}
		b.stored[r.Hash] = r.peers
	}
	close(b.doneC)
}

// Attempted returns false if the hashes were not announced because this node
// is not reachable or cannot store values in the DHT.
func (b *Batch) Attempted() bool {
	return b.attempted
}

// Results returns the result of each hash in submission order.
func (b *Batch) Results() []*Result {
	return b.results
}

// Done returns a channel that is closed when all hashes in the batch are resolved.
func (b *Batch) Done() <-chan struct{} {
	return b.doneC
}

// Wait blocks until all hashes in the batch are resolved or ctx is done.
// It returns the peers for each hash that did not fail.
// Failed hashes are reported in the returned error, one error per hash.
func (b *Batch) Wait(ctx context.Context) (map[string][]string, error) {
	select {
	case <-b.doneC:
		return b.stored, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
