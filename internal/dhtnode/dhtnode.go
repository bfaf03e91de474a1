// Package dhtnode announces blobs on the mainline BitTorrent DHT.
package dhtnode

import (
	"context"
	"crypto/sha1" // nolint: gosec
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/cenkalti/blobannounce/internal/logger"
	"github.com/nictuku/dht"
)

var (
	// ErrReadOnly is returned from Store when the node is configured as read-only.
	ErrReadOnly = errors.New("dht node is read-only")
	// ErrClosed is returned from Store after the node is closed.
	ErrClosed = errors.New("dht node is closed")
)

// Config for Node.
type Config struct {
	// DHT node will listen on this IP.
	Address string `yaml:"address"`
	// DHT node will listen on this UDP port.
	Port uint16 `yaml:"port"`
	// TCP port that other peers connect to for downloading blobs.
	// Zero means this node is not reachable and does not announce.
	PeerPort int `yaml:"peer_port"`
	// Comma separated list of bootstrap nodes.
	Routers string `yaml:"routers"`
	// Read-only nodes look up the DHT but never announce.
	ReadOnly bool `yaml:"read_only"`
	// Time to wait for the DHT to return peers for an announced hash.
	StoreTimeout time.Duration `yaml:"store_timeout"`
	// Number of times to retry starting the DHT node.
	StartRetries uint64 `yaml:"start_retries"`
}

// DefaultConfig for Node. It announces on the public bootstrap nodes.
var DefaultConfig = Config{
	Address:      "0.0.0.0",
	Port:         4444,
	PeerPort:     3333,
	Routers:      "router.bittorrent.com:6881,dht.transmissionbt.com:6881,router.utorrent.com:6881,dht.libtorrent.org:25401",
	StoreTimeout: 30 * time.Second,
	StartRetries: 5,
}

type dhtClient interface {
	PeersRequestPort(ih string, announce bool, port int)
	Stop()
}

// Node stores blob hashes in the DHT. It implements announcer.Node.
type Node struct {
	config   Config
	client   dhtClient
	resultsC <-chan map[dht.InfoHash][]string
	log      logger.Logger

	mRequests sync.Mutex
	requests  map[dht.InfoHash]map[chan []string]struct{}

	closeOnce sync.Once
	closeC    chan struct{}
	doneC     chan struct{}
}

// New starts a DHT node.
func New(cfg Config) (*Node, error) {
	dhtConfig := dht.NewConfig()
	dhtConfig.Address = cfg.Address
	dhtConfig.Port = int(cfg.Port)
	dhtConfig.DHTRouters = cfg.Routers
	dhtConfig.SaveRoutingTable = false
	d, err := dht.New(dhtConfig)
	if err != nil {
		return nil, err
	}
	l := logger.New("dht")
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	err = backoff.RetryNotify(d.Start, backoff.WithMaxRetries(retry, cfg.StartRetries), func(err error, wait time.Duration) {
		l.Warningf("cannot start dht node: %s, retrying in %s", err, wait)
	})
	if err != nil {
		return nil, err
	}
	l.Infof("DHT node started on %s:%d", cfg.Address, d.Port())
	return newNode(cfg, d, d.PeersRequestResults, l), nil
}

func newNode(cfg Config, c dhtClient, resultsC <-chan map[dht.InfoHash][]string, l logger.Logger) *Node {
	n := &Node{
		config:   cfg,
		client:   c,
		resultsC: resultsC,
		log:      l,
		requests: make(map[dht.InfoHash]map[chan []string]struct{}),
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
	go n.processResults()
	return n
}

// Close stops the DHT node.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		close(n.closeC)
		<-n.doneC
		n.client.Stop()
	})
}

// HasOpenPort returns true if a peer port is configured.
func (n *Node) HasOpenPort() bool {
	return n.config.PeerPort > 0
}

// CanStore returns false if the node is read-only.
func (n *Node) CanStore() bool {
	return !n.config.ReadOnly
}

// InfoHash returns the 20 byte DHT key of a blob hash.
func InfoHash(blobHash []byte) dht.InfoHash {
	sum := sha1.Sum(blobHash) // nolint: gosec
	return dht.InfoHash(sum[:])
}

// Store announces blobHash with the configured peer port and returns the addresses of the
// peers returned by the DHT for that hash. If the DHT does not answer in StoreTimeout
// an empty result is returned.
func (n *Node) Store(ctx context.Context, blobHash []byte) ([]string, error) {
	if n.config.ReadOnly {
		return nil, ErrReadOnly
	}
	ih := InfoHash(blobHash)
	resultC := make(chan []string, 1)
	n.mRequests.Lock()
	if n.requests[ih] == nil {
		n.requests[ih] = make(map[chan []string]struct{})
	}
	n.requests[ih][resultC] = struct{}{}
	n.mRequests.Unlock()
	defer func() {
		n.mRequests.Lock()
		delete(n.requests[ih], resultC)
		if len(n.requests[ih]) == 0 {
			delete(n.requests, ih)
		}
		n.mRequests.Unlock()
	}()

	n.client.PeersRequestPort(string(ih), true, n.config.PeerPort)

	timer := time.NewTimer(n.config.StoreTimeout)
	defer timer.Stop()
	select {
	case peers := <-resultC:
		return peers, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.closeC:
		return nil, ErrClosed
	}
}

func (n *Node) processResults() {
	defer close(n.doneC)
	for {
		select {
		case res := <-n.resultsC:
			for ih, peers := range res {
				addrs := parsePeers(peers)
				n.mRequests.Lock()
				for c := range n.requests[ih] {
					select {
					case c <- addrs:
					default:
					}
				}
				n.mRequests.Unlock()
			}
		case <-n.closeC:
			return
		}
	}
}

func parsePeers(peers []string) []string {
	addrs := make([]string, 0, len(peers))
	for _, peer := range peers {
		if len(peer) != 6 {
			// only IPv4 is supported for now
			continue
		}
		ip := net.IP(peer[:4])
		port := int((uint16(peer[4]) << 8) | uint16(peer[5]))
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	}
	return addrs
}
