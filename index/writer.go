package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/codec"
	"github.com/sourcefrog-labs/conserve/transport"
)

// HunksPerSubdir is the number of hunks grouped into each "i/SSSSS/"
// subdirectory (spec.md section 3).
const HunksPerSubdir = 10_000

// HunkTargetBytes is the default flush threshold: once queued JSON size
// reaches this, the writer sorts and flushes a hunk. Spec.md section 9
// calls this a tunable, not a constant, so it lives on Writer as a field
// seeded from this default.
const HunkTargetBytes = 1 << 20 // ~1 MiB

// ErrOutOfOrder reports a caller bug: an entry was added that does not sort
// strictly after the last entry of the previously flushed hunk.
var ErrOutOfOrder = errors.New("index: entry out of order")

// Writer accumulates IndexEntry values in apath order and flushes them as
// compressed, sorted hunks under relpath "i/" inside a transport root
// (typically a band directory), per spec.md section 4.E.
type Writer struct {
	tr              transport.Transport
	hunkTargetBytes int
	codec           codec.Snappy

	nextHunk       int
	queued         []Entry
	queuedBytes    int
	lastWritten    *apath.Apath
	hunksWritten   int
}

// NewWriter returns a Writer that writes hunks under tr, using the default
// hunk target size.
func NewWriter(tr transport.Transport) *Writer {
	return &Writer{tr: tr, hunkTargetBytes: HunkTargetBytes}
}

// WithHunkTargetBytes overrides the flush threshold.
func (w *Writer) WithHunkTargetBytes(n int) *Writer {
	w.hunkTargetBytes = n
	return w
}

// Add queues entry for the current hunk. Entries may be queued out of order
// within one hunk (the writer sorts at flush time) but every entry, once
// queued, must sort strictly after the last entry of the most recently
// flushed hunk; violating this is a caller bug and returns ErrOutOfOrder,
// matching the debug-assert policy in spec.md section 7.
func (w *Writer) Add(e Entry) error {
	p, err := e.Path()
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if w.lastWritten != nil && !apath.Less(*w.lastWritten, p) {
		return fmt.Errorf("%w: %s does not sort after %s", ErrOutOfOrder, p, *w.lastWritten)
	}
	w.queued = append(w.queued, e)
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("index: serialize entry: %w", err)
	}
	w.queuedBytes += len(raw)
	if w.queuedBytes >= w.hunkTargetBytes {
		return w.flush()
	}
	return nil
}

// flush sorts and writes the queued entries as the next hunk, if any are
// queued.
func (w *Writer) flush() error {
	if len(w.queued) == 0 {
		return nil
	}
	sort.Slice(w.queued, func(i, j int) bool {
		return apath.Less(apath.MustNew(w.queued[i].Apath), apath.MustNew(w.queued[j].Apath))
	})
	for i := 1; i < len(w.queued); i++ {
		a := apath.MustNew(w.queued[i-1].Apath)
		b := apath.MustNew(w.queued[i].Apath)
		if !apath.Less(a, b) {
			return fmt.Errorf("%w: duplicate or unsorted apath %s", ErrOutOfOrder, b)
		}
	}

	raw, err := json.Marshal(w.queued)
	if err != nil {
		return fmt.Errorf("index: serialize hunk: %w", err)
	}
	compressed := w.codec.Compress(raw)

	if w.nextHunk%HunksPerSubdir == 0 {
		if err := w.tr.CreateDir(subdirRelpath(w.nextHunk)); err != nil {
			return fmt.Errorf("index: create hunk subdir: %w", err)
		}
	}
	if err := w.tr.Write(hunkRelpath(w.nextHunk), compressed, transport.CreateNew); err != nil {
		return fmt.Errorf("index: write hunk %d: %w", w.nextHunk, err)
	}

	last := apath.MustNew(w.queued[len(w.queued)-1].Apath)
	w.lastWritten = &last
	w.nextHunk++
	w.hunksWritten++
	w.queued = nil
	w.queuedBytes = 0
	return nil
}

// Finalize flushes any queued entries. It never writes an empty final hunk.
func (w *Writer) Finalize() error {
	return w.flush()
}

// HunksWritten returns how many hunks have been written so far.
func (w *Writer) HunksWritten() int { return w.hunksWritten }
