// Package chash implements Conserve's content hash: a fixed-width BLAKE2b-512
// digest over raw (uncompressed) block payload bytes. It mirrors the pluggable
// hash wrapper shape of go-git's plumbing/hash package, fixed to the single
// algorithm the archive format requires.
package chash

import (
	"bytes"
	"encoding/hex"
	"errors"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Size is the digest length in bytes.
const Size = 64

// ErrInvalidHexLength is returned by FromHex when the input doesn't decode
// to exactly Size bytes.
var ErrInvalidHexLength = errors.New("chash: hex string is not a valid hash")

// Hash is a BLAKE2b-512 digest.
type Hash [Size]byte

// Zero is the zero-value hash, never a valid content hash.
var Zero Hash

// Hasher streams content through BLAKE2b-512.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a fresh streaming hasher.
func NewHasher() *Hasher {
	h, err := blake2b.New512(nil)
	if err != nil {
		// blake2b.New512 only errors for an oversized key, and we pass nil.
		panic(err)
	}
	return &Hasher{h: h}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

// Finalize returns the digest of everything written so far.
func (h *Hasher) Finalize() Hash {
	var out Hash
	copy(out[:], h.h.Sum(nil))
	return out
}

// Sum computes the hash of raw in one call.
func Sum(raw []byte) Hash {
	h := NewHasher()
	_, _ = h.Write(raw)
	return h.Finalize()
}

// Hex returns the lowercase hex encoding of h.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Zero }

// FromHex parses a hex-encoded hash, as stored in index JSON and block
// filenames.
func FromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != Size {
		return Hash{}, ErrInvalidHexLength
	}
	var out Hash
	copy(out[:], b)
	return out, nil
}

// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b.
func Compare(a, b Hash) int { return bytes.Compare(a[:], b[:]) }

// Less reports whether a sorts strictly before b.
func Less(a, b Hash) bool { return Compare(a, b) < 0 }
