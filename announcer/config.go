package announcer

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned from New when the Config cannot be used.
var ErrInvalidConfig = errors.New("invalid announcer config")

// Config for Announcer.
type Config struct {
	// Time between runs of the manage loop. Each run reports progress and moves staged hashes into the announce queue.
	AnnounceCheckInterval time.Duration `yaml:"announce_check_interval"`
	// Max number of hashes being stored in the DHT at the same time.
	ConcurrentAnnouncers int `yaml:"concurrent_announcers"`
	// Number of times a store is retried when no peer accepts the hash.
	StoreRetries int `yaml:"store_retries"`
	// Time to wait between store retries.
	StoreRetryDelay time.Duration `yaml:"store_retry_delay"`
	// Max number of store attempts per second. Zero disables the limit.
	StoreRateLimit float64 `yaml:"store_rate_limit"`
	// A hash is never reannounced sooner than this.
	MinReannounceInterval time.Duration `yaml:"min_reannounce_interval"`
	// Conservative assumption of the time it takes to announce a single hash.
	// Measured durations below this value are ignored.
	DefaultSingleHashAnnounceDuration time.Duration `yaml:"default_single_hash_announce_duration"`
}

// DefaultConfig for Announcer.
var DefaultConfig = Config{
	AnnounceCheckInterval:             time.Minute,
	ConcurrentAnnouncers:              5,
	StoreRetries:                      3,
	MinReannounceInterval:             time.Hour,
	DefaultSingleHashAnnounceDuration: time.Second,
}

func (c *Config) validate() error {
	switch {
	case c.AnnounceCheckInterval <= 0:
		return fmt.Errorf("%w: announce check interval must be positive", ErrInvalidConfig)
	case c.ConcurrentAnnouncers < 1:
		return fmt.Errorf("%w: need at least one concurrent announcer", ErrInvalidConfig)
	case c.StoreRetries < 0:
		return fmt.Errorf("%w: store retries cannot be negative", ErrInvalidConfig)
	case c.StoreRetryDelay < 0:
		return fmt.Errorf("%w: store retry delay cannot be negative", ErrInvalidConfig)
	case c.StoreRateLimit < 0:
		return fmt.Errorf("%w: store rate limit cannot be negative", ErrInvalidConfig)
	case c.MinReannounceInterval < 0:
		return fmt.Errorf("%w: min reannounce interval cannot be negative", ErrInvalidConfig)
	case c.DefaultSingleHashAnnounceDuration < 0:
		return fmt.Errorf("%w: single hash announce duration cannot be negative", ErrInvalidConfig)
	}
	return nil
}
