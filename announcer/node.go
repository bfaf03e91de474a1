package announcer

import "context"

// Node is the DHT node that hashes are announced to.
type Node interface {
	// Store announces that this peer has the blob with given hash.
	// It returns the ids of the peers that stored the value.
	// An empty result means no peer accepted it.
	Store(ctx context.Context, blobHash []byte) ([]string, error)
	// HasOpenPort returns true if other peers can connect to this node to download blobs.
	HasOpenPort() bool
	// CanStore returns false for client-only nodes that cannot announce at all.
	CanStore() bool
}
