// Package diff zip-merges two apath-sorted entry streams — two stitched
// bands, a band against the live source tree, or any other Source pairing —
// and classifies every path as added, deleted, unchanged, or changed. It
// generalizes go-git's merkletrie change computation (comparing two sorted
// trees noder-by-noder) from git trees to conserve's flat, sorted entry
// lists, per spec.md section 4.K.
package diff

import (
	"fmt"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/index"
)

// Kind classifies one path's change between the old and new Source.
type Kind string

const (
	KindAdded     Kind = "Added"
	KindDeleted   Kind = "Deleted"
	KindUnchanged Kind = "Unchanged"
	KindChanged   Kind = "Changed"
)

// Change describes one path's status. Old is nil for Added, New is nil for
// Deleted; both are set otherwise.
type Change struct {
	Apath string
	Kind  Kind
	Old   *index.Entry
	New   *index.Entry
}

// ChangeFunc is called once per path in merged order; returning an error
// stops the merge and propagates the error.
type ChangeFunc func(Change) error

// Run zip-merges oldSrc against newSrc in apath order and calls fn once per
// path with its classification. Both sources must already yield entries in
// strictly ascending apath order, which every Source constructor in this
// package guarantees.
func Run(oldSrc, newSrc Source, fn ChangeFunc) error {
	oe, err := oldSrc.Next()
	if err != nil {
		return fmt.Errorf("diff: read old side: %w", err)
	}
	ne, err := newSrc.Next()
	if err != nil {
		return fmt.Errorf("diff: read new side: %w", err)
	}

	for oe != nil || ne != nil {
		switch {
		case oe == nil:
			if err := fn(Change{Apath: ne.Apath, Kind: KindAdded, New: ne}); err != nil {
				return err
			}
			if ne, err = newSrc.Next(); err != nil {
				return fmt.Errorf("diff: read new side: %w", err)
			}

		case ne == nil:
			if err := fn(Change{Apath: oe.Apath, Kind: KindDeleted, Old: oe}); err != nil {
				return err
			}
			if oe, err = oldSrc.Next(); err != nil {
				return fmt.Errorf("diff: read old side: %w", err)
			}

		default:
			op, perr := apath.New(oe.Apath)
			if perr != nil {
				return fmt.Errorf("diff: %w", perr)
			}
			np, perr := apath.New(ne.Apath)
			if perr != nil {
				return fmt.Errorf("diff: %w", perr)
			}
			switch {
			case apath.Less(op, np):
				if err := fn(Change{Apath: oe.Apath, Kind: KindDeleted, Old: oe}); err != nil {
					return err
				}
				if oe, err = oldSrc.Next(); err != nil {
					return fmt.Errorf("diff: read old side: %w", err)
				}

			case apath.Less(np, op):
				if err := fn(Change{Apath: ne.Apath, Kind: KindAdded, New: ne}); err != nil {
					return err
				}
				if ne, err = newSrc.Next(); err != nil {
					return fmt.Errorf("diff: read new side: %w", err)
				}

			default:
				kind := KindChanged
				if oe.SameMetadata(*ne) {
					kind = KindUnchanged
				}
				if err := fn(Change{Apath: oe.Apath, Kind: kind, Old: oe, New: ne}); err != nil {
					return err
				}
				if oe, err = oldSrc.Next(); err != nil {
					return fmt.Errorf("diff: read old side: %w", err)
				}
				if ne, err = newSrc.Next(); err != nil {
					return fmt.Errorf("diff: read new side: %w", err)
				}
			}
		}
	}
	return nil
}

// Collect runs Run and returns every Change in order, for callers (mainly
// tests) that want the whole result rather than a streaming callback.
func Collect(oldSrc, newSrc Source) ([]Change, error) {
	var out []Change
	err := Run(oldSrc, newSrc, func(c Change) error {
		out = append(out, c)
		return nil
	})
	return out, err
}
