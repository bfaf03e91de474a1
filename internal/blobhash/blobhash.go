// Package blobhash handles blob identifiers: sha2-384 digests that are passed around as
// hex strings and given to the DHT as raw bytes.
package blobhash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multihash"
	mhcore "github.com/multiformats/go-multihash/core"
)

// Size of a blob hash in bytes.
const Size = 48

// ErrInvalidHash is returned when a string cannot be decoded as a blob hash.
var ErrInvalidHash = errors.New("invalid blob hash")

// Decode converts the hex representation of a blob hash to bytes.
// It does not enforce the length; the DHT layer decides what it accepts.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHash)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHash, err)
	}
	return b, nil
}

// Parse validates s and returns it in canonical form (lowercase hex, Size bytes).
// s may be a plain hex digest or a hex encoded sha2-384 multihash prefixed with "mh:".
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "mh:") {
		mh, err := multihash.FromHexString(s[3:])
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidHash, err)
		}
		dmh, err := multihash.Decode(mh)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidHash, err)
		}
		if dmh.Code != mhcore.SHA2_384 {
			return "", fmt.Errorf("%w: unsupported multihash code 0x%x", ErrInvalidHash, dmh.Code)
		}
		return hex.EncodeToString(dmh.Digest), nil
	}
	b, err := Decode(s)
	if err != nil {
		return "", err
	}
	if len(b) != Size {
		return "", fmt.Errorf("%w: length %d != %d", ErrInvalidHash, len(b), Size)
	}
	return hex.EncodeToString(b), nil
}

// Sum returns the blob hash of data in hex.
func Sum(data []byte) (string, error) {
	mh, err := multihash.Sum(data, mhcore.SHA2_384, -1)
	if err != nil {
		return "", err
	}
	dmh, err := multihash.Decode(mh)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(dmh.Digest), nil
}

// Multihash returns the "mh:" form of a canonical blob hash.
func Multihash(s string) (string, error) {
	b, err := Decode(s)
	if err != nil {
		return "", err
	}
	mh, err := multihash.Encode(b, mhcore.SHA2_384)
	if err != nil {
		return "", err
	}
	return "mh:" + multihash.Multihash(mh).HexString(), nil
}
