package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/codec"
	"github.com/sourcefrog-labs/conserve/transport"
)

// ErrCorrupt reports a hunk that failed to decode.
var ErrCorrupt = errors.New("index: corrupt hunk")

// CorruptHunkError identifies which hunk failed to decode, per
// spec.md's IndexCorrupt(band, hunk) error kind.
type CorruptHunkError struct {
	Hunk int
	Err  error
}

func (e *CorruptHunkError) Error() string {
	return fmt.Sprintf("index: hunk %d corrupt: %v", e.Hunk, e.Err)
}

func (e *CorruptHunkError) Unwrap() error { return errors.Join(ErrCorrupt, e.Err) }

// Reader enumerates and reads the hunks of a single band's index, found
// under transport root tr (a band directory).
type Reader struct {
	tr    transport.Transport
	codec codec.Snappy
}

// NewReader returns a Reader over tr.
func NewReader(tr transport.Transport) *Reader {
	return &Reader{tr: tr}
}

// HunkNumbers lists every hunk number present, ascending. A gap (a missing
// hunk number below the highest present one) is not an error here; callers
// that need "readable prefix" semantics use HunkNumbers together with
// ReadHunk and stop at the first gap or decode failure.
func (r *Reader) HunkNumbers() ([]int, error) {
	subdirs, err := r.tr.ListDir("i")
	if transport.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: list hunk subdirs: %w", err)
	}
	var nums []int
	for _, sd := range subdirs {
		if sd.Kind != transport.DirKind {
			continue
		}
		entries, err := r.tr.ListDir("i/" + sd.Name)
		if err != nil {
			return nil, fmt.Errorf("index: list hunk subdir %s: %w", sd.Name, err)
		}
		for _, e := range entries {
			n, err := strconv.Atoi(strings.TrimLeft(e.Name, "0"))
			if err != nil {
				if e.Name == strings.Repeat("0", len(e.Name)) {
					n = 0
				} else {
					continue
				}
			}
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums, nil
}

// ReadHunk reads, decompresses and decodes hunk n.
func (r *Reader) ReadHunk(n int) ([]Entry, error) {
	compressed, err := r.tr.Read(hunkRelpath(n))
	if err != nil {
		if transport.IsNotFound(err) {
			return nil, fmt.Errorf("index: hunk %d: %w", n, err)
		}
		return nil, &CorruptHunkError{Hunk: n, Err: err}
	}
	raw, err := r.codec.Decompress(compressed)
	if err != nil {
		return nil, &CorruptHunkError{Hunk: n, Err: err}
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &CorruptHunkError{Hunk: n, Err: err}
	}
	return entries, nil
}

// FirstLast returns the first and last apath in hunk n, used by
// subtree-scoped iteration to test whether a hunk's range can intersect
// the subtree. It reads and decodes the whole hunk to find them.
func (r *Reader) FirstLast(n int) (first, last apath.Apath, err error) {
	entries, err := r.ReadHunk(n)
	if err != nil {
		return apath.Apath{}, apath.Apath{}, err
	}
	if len(entries) == 0 {
		return apath.Apath{}, apath.Apath{}, fmt.Errorf("index: hunk %d is empty", n)
	}
	return apath.MustNew(entries[0].Apath), apath.MustNew(entries[len(entries)-1].Apath), nil
}

// Options configures iteration filtering.
type Options struct {
	// Subtree, if set, restricts iteration to entries at or under this
	// apath.
	Subtree *apath.Apath
	// Exclude filters out matching entries.
	Exclude apath.Excluder
}

// EntryFunc is called once per entry during iteration; returning an error
// stops iteration and propagates the error.
type EntryFunc func(Entry) error

// Iterate walks every hunk in order, calling fn for each entry that passes
// opts' filters. When opts.Subtree is set, Iterate checks each hunk in turn
// with FirstLast and does not pass on entries from hunks whose range cannot
// intersect the subtree; there is no binary search, and every hunk is still
// read and decoded once for that check.
func (r *Reader) Iterate(opts Options, fn EntryFunc) error {
	nums, err := r.HunkNumbers()
	if err != nil {
		return err
	}
	for _, n := range nums {
		if opts.Subtree != nil {
			first, last, err := r.FirstLast(n)
			if err != nil {
				return err
			}
			if !rangeMayIntersect(*opts.Subtree, first, last) {
				continue
			}
		}
		entries, err := r.ReadHunk(n)
		if err != nil {
			return err
		}
		for _, e := range entries {
			p, err := e.Path()
			if err != nil {
				continue
			}
			if opts.Subtree != nil && !subtreeContains(*opts.Subtree, p) {
				continue
			}
			if opts.Exclude.Match(p) {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func subtreeContains(subtree, p apath.Apath) bool {
	return subtree.IsPrefixOf(p)
}

// rangeMayIntersect reports whether [first,last] could contain an entry
// under subtree. Conservative: a hunk's range always intersects if subtree
// is an ancestor of, equal to, or between first and last.
func rangeMayIntersect(subtree, first, last apath.Apath) bool {
	if subtree.IsPrefixOf(first) || subtree.IsPrefixOf(last) {
		return true
	}
	// subtree itself might fall strictly between first and last.
	return !apath.Less(subtree, first) && !apath.Less(last, subtree)
}
