// Package blockdir implements Conserve's content-addressed block store: an
// immutable set of Zstd-compressed blobs named by the BLAKE2b hash of their
// raw content, fanned out under "d/<hash[0:3]>/<hash>". The fan-out and the
// CreateNew-then-AlreadyExists race resolution directly mirror go-git's
// loose object store (storage/filesystem/dotgit), which fans objects out
// under "objects/<hash[0:2]>/<hash[2:]>" the same way; the presence cache
// generalizes plumbing/cache's in-memory object cache from "recently used"
// to "known present", per spec.md section 4.D.
package blockdir

import (
	"fmt"

	"github.com/sourcefrog-labs/conserve/chash"
	"github.com/sourcefrog-labs/conserve/codec"
	"github.com/sourcefrog-labs/conserve/transport"
)

// FanoutChars is the number of leading hex characters of a hash used as the
// fan-out directory name.
const FanoutChars = 3

// ErrCorrupt reports that a stored block's content does not match its
// filename hash, or is shorter than a requested range.
var ErrCorrupt = fmt.Errorf("blockdir: corrupt block")

// ValidationMode controls how strictly Get checks block integrity.
type ValidationMode int

const (
	// ValidateNone skips hash recomputation on Get (fast path).
	ValidateNone ValidationMode = iota
	// ValidateStrict recomputes the hash on every Get and compares it to
	// the filename, per spec.md section 4.D step 3.
	ValidateStrict
)

// BlockDir is a content-addressed block store rooted at a transport.
type BlockDir struct {
	tr       transport.Transport
	zstd     codec.Zstd
	cache    *presenceCache
	validate ValidationMode
}

// Options configures a BlockDir.
type Options struct {
	// ZstdLevel is the compression level for newly stored blocks. Zero
	// means codec.ZstdLevel (spec.md section 4.B: "level 3 default").
	ZstdLevel int
	// PresenceCacheSize bounds the in-memory "have I seen this block"
	// cache (spec.md section 4.D). Zero means DefaultPresenceCacheSize.
	PresenceCacheSize int
	// Validate controls Get's integrity checking.
	Validate ValidationMode
}

// DefaultPresenceCacheSize is the default bound on the presence cache.
const DefaultPresenceCacheSize = 65536

// New returns a BlockDir storing blocks under tr (conventionally the
// archive's "d/" subtree).
func New(tr transport.Transport, opts Options) *BlockDir {
	size := opts.PresenceCacheSize
	if size <= 0 {
		size = DefaultPresenceCacheSize
	}
	return &BlockDir{
		tr:       tr,
		zstd:     codec.NewZstd(opts.ZstdLevel),
		cache:    newPresenceCache(size),
		validate: opts.Validate,
	}
}

func relpath(h chash.Hash) string {
	hex := h.Hex()
	return "" + hex[:FanoutChars] + "/" + hex
}

// StoreOrDedup stores raw if its hash hasn't been seen before, returning the
// hash and whether a new block was actually written (spec.md section 4.D).
func (b *BlockDir) StoreOrDedup(raw []byte) (chash.Hash, bool, error) {
	h := chash.Sum(raw)
	if b.cache.has(h) {
		return h, false, nil
	}
	if _, err := b.tr.Metadata(relpath(h)); err == nil {
		b.cache.add(h)
		return h, false, nil
	} else if !transport.IsNotFound(err) {
		return chash.Hash{}, false, fmt.Errorf("blockdir: probe %s: %w", h, err)
	}

	compressed, err := b.zstd.Compress(raw)
	if err != nil {
		return chash.Hash{}, false, fmt.Errorf("blockdir: compress %s: %w", h, err)
	}
	err = b.tr.Write(relpath(h), compressed, transport.CreateNew)
	if err != nil && !transport.IsAlreadyExists(err) {
		return chash.Hash{}, false, fmt.Errorf("blockdir: write %s: %w", h, err)
	}
	// A racing writer that got there first is success too (spec.md
	// section 4.D step 4 / section 5 concurrency model).
	b.cache.add(h)
	return h, err == nil, nil
}

// full reads, decompresses, and (if in strict validation mode) verifies
// block h, returning its entire raw content.
func (b *BlockDir) full(h chash.Hash) ([]byte, error) {
	compressed, err := b.tr.Read(relpath(h))
	if err != nil {
		return nil, fmt.Errorf("blockdir: read %s: %w", h, err)
	}
	raw, err := b.zstd.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decompress: %v", ErrCorrupt, h, err)
	}
	if b.validate == ValidateStrict {
		if got := chash.Sum(raw); got != h {
			return nil, fmt.Errorf("%w: %s: hash mismatch, got %s", ErrCorrupt, h, got)
		}
	}
	return raw, nil
}

// GetRange returns the bytes [start, start+length) of block h's raw
// content.
func (b *BlockDir) GetRange(h chash.Hash, start, length uint64) ([]byte, error) {
	raw, err := b.full(h)
	if err != nil {
		return nil, err
	}
	end := start + length
	if end > uint64(len(raw)) || start > end {
		return nil, fmt.Errorf("%w: %s: range [%d,%d) exceeds length %d", ErrCorrupt, h, start, end, len(raw))
	}
	return raw[start:end], nil
}

// Get returns the entire raw content of block h.
func (b *BlockDir) Get(h chash.Hash) ([]byte, error) {
	return b.full(h)
}

// Len returns the decompressed length of block h, used by validate to
// compare against the maximum required length.
func (b *BlockDir) Len(h chash.Hash) (uint64, error) {
	raw, err := b.full(h)
	if err != nil {
		return 0, err
	}
	return uint64(len(raw)), nil
}

// Blocks enumerates every hash present in the block directory. Filenames
// that don't parse as a hash are skipped and reported via warn.
func (b *BlockDir) Blocks(warn func(name string)) ([]chash.Hash, error) {
	prefixes, err := b.tr.ListDir(".")
	if transport.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blockdir: list: %w", err)
	}
	var out []chash.Hash
	for _, p := range prefixes {
		if p.Kind != transport.DirKind {
			continue
		}
		entries, err := b.tr.ListDir(p.Name)
		if err != nil {
			return nil, fmt.Errorf("blockdir: list %s: %w", p.Name, err)
		}
		for _, e := range entries {
			h, err := chash.FromHex(e.Name)
			if err != nil {
				if warn != nil {
					warn(p.Name + "/" + e.Name)
				}
				continue
			}
			out = append(out, h)
		}
	}
	return out, nil
}

// Delete removes block h. A missing block is not an error.
func (b *BlockDir) Delete(h chash.Hash) error {
	err := b.tr.RemoveFile(relpath(h))
	if err != nil && !transport.IsNotFound(err) {
		return fmt.Errorf("blockdir: delete %s: %w", h, err)
	}
	b.cache.remove(h)
	return nil
}
