package announcer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/log"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenkalti/blobannounce/internal/logger"
)

func init() {
	logger.SetLevel(log.DEBUG)
}

type fakeNode struct {
	storeFunc func(blobHash []byte) ([]string, error)
	noPort    atomic.Bool
	readOnly  atomic.Bool

	m     sync.Mutex
	calls []string
}

func newFakeNode(f func(blobHash []byte) ([]string, error)) *fakeNode {
	return &fakeNode{storeFunc: f}
}

func (n *fakeNode) Store(ctx context.Context, blobHash []byte) ([]string, error) {
	n.m.Lock()
	n.calls = append(n.calls, fmt.Sprintf("%x", blobHash))
	n.m.Unlock()
	return n.storeFunc(blobHash)
}

func (n *fakeNode) HasOpenPort() bool { return !n.noPort.Load() }
func (n *fakeNode) CanStore() bool    { return !n.readOnly.Load() }

func (n *fakeNode) Calls() []string {
	n.m.Lock()
	defer n.m.Unlock()
	return append([]string(nil), n.calls...)
}

func storeTo(peers ...string) func([]byte) ([]string, error) {
	return func([]byte) ([]string, error) { return peers, nil }
}

func testHashes(n int) []string {
	hashes := make([]string, n)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("%04x", i)
	}
	return hashes
}

func newTestAnnouncer(t *testing.T, node Node, cfg Config) (*Announcer, *clock.Mock) {
	mock := clock.NewMock()
	a, err := New(node, cfg, WithClock(mock))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, mock
}

func wait(t *testing.T, b *Batch) (map[string][]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stored, err := b.Wait(ctx)
	require.NotEqual(t, context.DeadlineExceeded, err, "batch did not finish")
	return stored, err
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := DefaultConfig
	cfg.ConcurrentAnnouncers = 0
	_, err := New(newFakeNode(storeTo("p")), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig
	cfg.AnnounceCheckInterval = 0
	_, err = New(newFakeNode(storeTo("p")), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestImmediateAnnounce(t *testing.T) {
	node := newFakeNode(storeTo("peer1", "peer2"))
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	hashes := testHashes(3)
	b := a.ImmediateAnnounce(hashes)
	assert.True(t, b.Attempted())
	stored, err := wait(t, b)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	for _, h := range hashes {
		assert.Equal(t, []string{"peer1", "peer2"}, stored[h])
	}
	for i, r := range b.Results() {
		assert.Equal(t, hashes[i], r.Hash)
		assert.NoError(t, r.Err())
	}
	assert.ElementsMatch(t, hashes, node.Calls())
	assert.Zero(t, a.HashQueueSize())
	assert.Eventually(t, func() bool { return a.Stats().ActiveAnnouncers == 0 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 3, a.Stats().Announced)
}

func TestConcurrencyBound(t *testing.T) {
	var inFlight, maxInFlight int32
	release := make(chan struct{})
	node := newFakeNode(func([]byte) ([]string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return []string{"peer"}, nil
	})
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	b := a.ImmediateAnnounce(testHashes(20))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&inFlight) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, 15, a.HashQueueSize())
	assert.Equal(t, 5, a.Stats().ActiveAnnouncers)

	// A second burst must not start more announcers.
	b2 := a.ImmediateAnnounce(testHashes(10))
	assert.Equal(t, 25, a.HashQueueSize())
	assert.Equal(t, 5, a.Stats().ActiveAnnouncers)

	close(release)
	stored, err := wait(t, b)
	require.NoError(t, err)
	assert.Len(t, stored, 20)
	_, err = wait(t, b2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, atomic.LoadInt32(&maxInFlight))
	assert.Len(t, node.Calls(), 30)
}

func TestExhaustedRetriesResolveEmpty(t *testing.T) {
	node := newFakeNode(storeTo())
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	b := a.ImmediateAnnounce([]string{"abcd"})
	stored, err := wait(t, b)
	require.NoError(t, err)
	require.Contains(t, stored, "abcd")
	assert.Empty(t, stored["abcd"])
	assert.Len(t, node.Calls(), DefaultConfig.StoreRetries+1)
	stats := a.Stats()
	assert.EqualValues(t, 1, stats.Exhausted)
	assert.EqualValues(t, 4, stats.StoreAttempts)
	assert.Zero(t, stats.Faults)
}

func TestFaultIsLocalToHash(t *testing.T) {
	errNetwork := errors.New("connection lost")
	node := newFakeNode(func(b []byte) ([]string, error) {
		if fmt.Sprintf("%x", b) == "0003" {
			return nil, errNetwork
		}
		return []string{"peer"}, nil
	})
	cfg := DefaultConfig
	cfg.ConcurrentAnnouncers = 2
	a, _ := newTestAnnouncer(t, node, cfg)

	hashes := testHashes(10)
	b := a.ImmediateAnnounce(hashes)
	stored, err := wait(t, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, errNetwork)
	assert.Contains(t, err.Error(), "0003")
	assert.Len(t, stored, 9)
	assert.NotContains(t, stored, "0003")
	assert.Equal(t, errNetwork, b.Results()[3].Err())
	// Store errors are not retried.
	assert.Len(t, node.Calls(), 10)
	assert.EqualValues(t, 1, a.Stats().Faults)
}

func TestMalformedHashFaults(t *testing.T) {
	node := newFakeNode(storeTo("peer"))
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	b := a.ImmediateAnnounce([]string{"not-hex", "abcd"})
	stored, err := wait(t, b)
	assert.Error(t, err)
	assert.Equal(t, map[string][]string{"abcd": {"peer"}}, stored)
	assert.Equal(t, []string{"abcd"}, node.Calls())
}

func TestImmediatePriority(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	node := newFakeNode(func(b []byte) ([]string, error) {
		if fmt.Sprintf("%x", b) == "aaaa" {
			started <- struct{}{}
			<-release
		}
		return []string{"peer"}, nil
	})
	cfg := DefaultConfig
	cfg.ConcurrentAnnouncers = 1
	a, _ := newTestAnnouncer(t, node, cfg)

	first := a.ImmediateAnnounce([]string{"aaaa"})
	<-started

	// Y is queued normally while the only announcer is busy.
	a.AddHashesToAnnounce([]string{"bbbb"})
	a.manage()
	require.Equal(t, 1, a.HashQueueSize())

	// X jumps ahead of Y.
	b := a.ImmediateAnnounce([]string{"cccc"})
	require.Equal(t, 2, a.HashQueueSize())

	close(release)
	_, err := wait(t, first)
	require.NoError(t, err)
	_, err = wait(t, b)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(node.Calls()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"aaaa", "cccc", "bbbb"}, node.Calls())
}

func TestNoOpenPort(t *testing.T) {
	node := newFakeNode(storeTo("peer"))
	node.noPort.Store(true)
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	b := a.ImmediateAnnounce(testHashes(3))
	assert.False(t, b.Attempted())
	stored, err := wait(t, b)
	assert.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, a.HashQueueSize())

	a.AddHashesToAnnounce(testHashes(2))
	a.manage()
	assert.Equal(t, 2, a.StagedSize())
	assert.Zero(t, a.HashQueueSize())
	assert.Empty(t, node.Calls())
	assert.Zero(t, a.Stats().ActiveAnnouncers)
}

func TestCannotStore(t *testing.T) {
	node := newFakeNode(storeTo("peer"))
	node.readOnly.Store(true)
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	b := a.ImmediateAnnounce(testHashes(3))
	assert.False(t, b.Attempted())
	stored, err := wait(t, b)
	assert.NoError(t, err)
	assert.Empty(t, stored)
	assert.Zero(t, a.HashQueueSize())

	a.AddHashesToAnnounce(testHashes(2))
	a.manage()
	assert.Zero(t, a.StagedSize())
	assert.Zero(t, a.HashQueueSize())
	assert.Empty(t, node.Calls())
}

func TestEmptyImmediateAnnounce(t *testing.T) {
	a, _ := newTestAnnouncer(t, newFakeNode(storeTo("peer")), DefaultConfig)
	b := a.ImmediateAnnounce(nil)
	assert.False(t, b.Attempted())
	stored, err := wait(t, b)
	assert.NoError(t, err)
	assert.Empty(t, stored)
}

func TestStagedHashesAnnouncedOnTick(t *testing.T) {
	release := make(chan struct{})
	node := newFakeNode(func([]byte) ([]string, error) {
		<-release
		return []string{"peer"}, nil
	})
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	a.AddHashesToAnnounce(testHashes(5))
	assert.Equal(t, 5, a.StagedSize())
	assert.Zero(t, a.HashQueueSize())

	a.manage()
	assert.Zero(t, a.StagedSize())
	assert.Eventually(t, func() bool { return len(node.Calls()) == 5 }, time.Second, time.Millisecond)
	stats := a.Stats()
	assert.Equal(t, 5, stats.ActiveAnnouncers)
	assert.Equal(t, 5, stats.BatchTotal)
	assert.Zero(t, stats.QueueDepth)

	close(release)
	assert.Eventually(t, func() bool { return a.Stats().Announced == 5 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return a.Stats().ActiveAnnouncers == 0 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, testHashes(5), node.Calls())
}

func TestStagedHashesAreDrainedLastInFirstOut(t *testing.T) {
	node := newFakeNode(storeTo("peer"))
	cfg := DefaultConfig
	cfg.ConcurrentAnnouncers = 1
	a, _ := newTestAnnouncer(t, node, cfg)

	a.AddHashesToAnnounce([]string{"0001", "0002"})
	a.AddHashesToAnnounce([]string{"0003"})
	a.manage()
	assert.Eventually(t, func() bool { return len(node.Calls()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"0003", "0002", "0001"}, node.Calls())
}

func TestNextAnnounceTime(t *testing.T) {
	a, mock := newTestAnnouncer(t, newFakeNode(storeTo("peer")), DefaultConfig)
	now := mock.Now()

	assert.Equal(t, now.Add(time.Hour), a.NextAnnounceTime(1))
	assert.Equal(t, now.Add(time.Hour), a.NextAnnounceTime(0))

	// Backlog longer than the minimum interval.
	a.rate.Record(10 * time.Second)
	assert.Equal(t, now.Add(10000*time.Second), a.NextAnnounceTime(1000))

	// The floor holds for any estimate.
	a.rate.Record(0)
	assert.Equal(t, now.Add(time.Hour), a.NextAnnounceTime(0))
	assert.Equal(t, time.Second, a.SingleHashAnnounceDuration())
}

func TestNextAnnounceTimeCountsQueue(t *testing.T) {
	release := make(chan struct{})
	node := newFakeNode(func([]byte) ([]string, error) {
		<-release
		return []string{"peer"}, nil
	})
	cfg := DefaultConfig
	cfg.ConcurrentAnnouncers = 1
	cfg.MinReannounceInterval = time.Minute
	a, mock := newTestAnnouncer(t, node, cfg)

	b := a.ImmediateAnnounce(testHashes(101))
	assert.Eventually(t, func() bool { return a.HashQueueSize() == 100 }, time.Second, time.Millisecond)
	// (100 queued + 1 new) * 1s
	assert.Equal(t, mock.Now().Add(101*time.Second), a.NextAnnounceTime(1))

	close(release)
	_, err := wait(t, b)
	require.NoError(t, err)
}

func TestBatchDurationUpdatesEstimate(t *testing.T) {
	var mock *clock.Mock
	node := newFakeNode(func([]byte) ([]string, error) {
		mock.Add(10 * time.Second)
		return []string{"peer"}, nil
	})
	cfg := DefaultConfig
	cfg.ConcurrentAnnouncers = 1
	var a *Announcer
	a, mock = newTestAnnouncer(t, node, cfg)

	b := a.ImmediateAnnounce(testHashes(3))
	_, err := wait(t, b)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return a.SingleHashAnnounceDuration() == 10*time.Second }, time.Second, time.Millisecond)
}

func TestStartStop(t *testing.T) {
	a, _ := newTestAnnouncer(t, newFakeNode(storeTo("peer")), DefaultConfig)
	defer leaktest.Check(t)()

	assert.False(t, a.Running())
	a.Stop()
	a.Start()
	a.Start()
	assert.True(t, a.Running())
	a.Stop()
	a.Stop()
	assert.False(t, a.Running())
}

func TestManageLoop(t *testing.T) {
	node := newFakeNode(storeTo("peer"))
	a, mock := newTestAnnouncer(t, node, DefaultConfig)
	defer leaktest.Check(t)()

	a.Start()
	defer a.Stop()

	a.AddHashesToAnnounce([]string{"0001"})
	assert.Eventually(t, func() bool {
		mock.Add(DefaultConfig.AnnounceCheckInterval)
		return len(node.Calls()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return a.Stats().Announced == 1 }, time.Second, time.Millisecond)
}

func TestStopDoesNotCancelAnnouncers(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	node := newFakeNode(func([]byte) ([]string, error) {
		started <- struct{}{}
		<-release
		return []string{"peer"}, nil
	})
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	a.Start()
	b := a.ImmediateAnnounce([]string{"0001"})
	<-started
	a.Stop()
	close(release)
	stored, err := wait(t, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"peer"}, stored["0001"])
}

func TestDuplicateHashesAreAnnouncedTwice(t *testing.T) {
	node := newFakeNode(storeTo("peer"))
	a, _ := newTestAnnouncer(t, node, DefaultConfig)

	b := a.ImmediateAnnounce([]string{"0001", "0001"})
	_, err := wait(t, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0001"}, node.Calls())
	r := b.Results()
	assert.NotSame(t, r[0], r[1])
}
