// Package stitch presents one logical, ordered index stream for a band by
// splicing an incomplete band onto its most recent closed predecessor. This
// is the same shape as go-git's plumbing/revlist / internal/revision
// ancestor walk: a bounded linear step back through history, lazily, never
// a cycle (spec.md section 9). A complete band's Stitch is identical to its
// own IndexReader (spec.md section 4.H).
package stitch

import (
	"fmt"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/band"
	"github.com/sourcefrog-labs/conserve/index"
)

// BandOpener opens a band by id; satisfied by *archive.Archive.
type BandOpener interface {
	OpenBand(id int) (*band.Band, error)
}

// EntryFunc is called once per stitched entry.
type EntryFunc func(index.Entry) error

// Stitch emits the stitched index for bandID: every entry of bandID's own
// hunks, then — if bandID is incomplete — every entry of its nearest closed
// predecessor whose apath sorts strictly after the last entry bandID
// emitted, recursing further back if that predecessor is itself incomplete.
// opts.Subtree and opts.Exclude are applied throughout.
func Stitch(opener BandOpener, bandID int, opts index.Options, fn EntryFunc) error {
	b, err := opener.OpenBand(bandID)
	if err != nil {
		return fmt.Errorf("stitch: open band %d: %w", bandID, err)
	}

	var lastEmitted *apath.Apath
	err = b.IndexReader().Iterate(opts, func(e index.Entry) error {
		p := e.MustPath()
		lastEmitted = &p
		return fn(e)
	})
	if err != nil {
		return err
	}
	if b.IsClosed() {
		return nil
	}

	// The target band is incomplete: find its nearest CLOSED predecessor,
	// skipping any incomplete ones in between (an incomplete band's own
	// index is itself only a partial prefix, so it has nothing useful to
	// splice in on its own — only a closed band is a complete snapshot).
	for predecessorID := bandID - 1; predecessorID >= 0; predecessorID-- {
		pb, err := opener.OpenBand(predecessorID)
		if err != nil {
			continue
		}
		if !pb.IsClosed() {
			continue
		}
		return pb.IndexReader().Iterate(opts, func(e index.Entry) error {
			p := e.MustPath()
			if lastEmitted != nil && !apath.Less(*lastEmitted, p) {
				return nil // already covered by the target band's own prefix
			}
			return fn(e)
		})
	}
	// No closed predecessor exists; the stitch yields only what the
	// incomplete band itself wrote (spec.md section 8 scenario 4).
	return nil
}

// Collect runs Stitch and returns every matching entry as a slice.
func Collect(opener BandOpener, bandID int, opts index.Options) ([]index.Entry, error) {
	var out []index.Entry
	err := Stitch(opener, bandID, opts, func(e index.Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}
