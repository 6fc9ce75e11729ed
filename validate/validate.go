// Package validate checks an archive's internal consistency: band
// structure, index ordering, and block reference integrity, without
// mutating anything. It plays the role go-git's object-store fsck would,
// had this snapshot retained one; built directly from blockdir/index/band's
// own primitives rather than from a teacher analogue, per spec.md section
// 4.K.
package validate

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/archive"
	"github.com/sourcefrog-labs/conserve/band"
	"github.com/sourcefrog-labs/conserve/chash"
	"github.com/sourcefrog-labs/conserve/index"
	"github.com/sourcefrog-labs/conserve/monitor"
	"github.com/sourcefrog-labs/conserve/stitch"
)

// maxConcurrentBands bounds how many bands checkBand processes at once,
// mirroring gc.referencedBlocks's bound over the same per-band shape.
const maxConcurrentBands = 8

// Options configures a validation run.
type Options struct {
	// SkipBlockHashes skips step (d)'s hash recomputation, checking only
	// structure and presence/length — a fast structural-only pass, per
	// spec.md section 4.K.
	SkipBlockHashes bool
}

// Run checks a's header (already validated by archive.Open), every band's
// structure, and the referenced-block set against what's actually on disk.
// It never mutates the archive. Every problem found is reported to mon and
// counted; Run's own return value is non-nil only for a fatal error that
// stops validation outright (an unreadable band list, an unlistable block
// directory) per spec.md section 4.K step (e).
func Run(a *archive.Archive, opts Options, mon *monitor.Monitor) error {
	if mon == nil {
		mon = monitor.New(nil)
	}

	ids, err := a.BandIDs()
	if err != nil {
		return fmt.Errorf("validate: list bands: %w", err)
	}

	required := make(map[chash.Hash]uint64)
	var (
		eg errgroup.Group
		mu sync.Mutex
	)
	eg.SetLimit(maxConcurrentBands)
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			local := make(map[chash.Hash]uint64)
			if err := checkBand(a, id, local, mon); err != nil {
				return err
			}
			mu.Lock()
			for h, need := range local {
				if need > required[h] {
					required[h] = need
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if err := checkBlocks(a, required, opts, mon); err != nil {
		return fmt.Errorf("validate: check blocks: %w", err)
	}
	return nil
}

// checkBand validates one band's structure (head/tail parse, supported
// flags, contiguous hunks, strict apath order) and folds its stitched
// index into required. Bands run concurrently, each with its own required
// map that Run merges under a mutex, so checkBand itself needs no locking
// beyond what monitor.Monitor already provides.
func checkBand(a *archive.Archive, id int, required map[chash.Hash]uint64, mon *monitor.Monitor) error {
	bandName := band.IDName(id)

	b, err := a.OpenBand(id)
	if err != nil {
		mon.Problem(monitor.Problem{
			Kind:   monitor.ProblemBandUnreadable,
			Detail: err.Error(),
			BandID: bandName,
		})
		mon.Inc(monitor.CounterErrors, 1)
		return nil
	}

	if err := checkHunkStructure(b, mon, bandName); err != nil {
		return nil // already reported; structural problems don't abort validate
	}

	err = stitch.Stitch(a, id, index.Options{}, func(e index.Entry) error {
		for _, addr := range e.Addrs {
			need := addr.Start + addr.Len
			if need > required[addr.Hash] {
				required[addr.Hash] = need
			}
		}
		return nil
	})
	if err != nil {
		mon.Problem(monitor.Problem{
			Kind:   monitor.ProblemIndexCorrupt,
			Detail: err.Error(),
			BandID: bandName,
		})
		mon.Inc(monitor.CounterErrors, 1)
	}
	return nil
}

// checkHunkStructure verifies a band's own hunks (not the stitched view)
// are numbered contiguously from zero and strictly apath-ordered within
// and across hunks, per spec.md section 4.K step (b).
func checkHunkStructure(b *band.Band, mon *monitor.Monitor, bandName string) error {
	r := b.IndexReader()
	nums, err := r.HunkNumbers()
	if err != nil {
		mon.Problem(monitor.Problem{Kind: monitor.ProblemIndexCorrupt, Detail: err.Error(), BandID: bandName})
		mon.Inc(monitor.CounterErrors, 1)
		return err
	}

	var lastPath *apath.Apath
	for i, n := range nums {
		if n != i {
			mon.Problem(monitor.Problem{
				Kind:   monitor.ProblemIndexCorrupt,
				Detail: fmt.Sprintf("hunk sequence has a gap: expected %d, found %d", i, n),
				BandID: bandName,
			})
			mon.Inc(monitor.CounterErrors, 1)
			return fmt.Errorf("hunk gap")
		}
		entries, err := r.ReadHunk(n)
		if err != nil {
			mon.Problem(monitor.Problem{
				Kind:   monitor.ProblemIndexCorrupt,
				Detail: fmt.Sprintf("hunk %d: %v", n, err),
				BandID: bandName,
			})
			mon.Inc(monitor.CounterErrors, 1)
			return err
		}
		for _, e := range entries {
			p, err := e.Path()
			if err != nil {
				mon.Problem(monitor.Problem{
					Kind:   monitor.ProblemIndexCorrupt,
					Detail: fmt.Sprintf("hunk %d: invalid apath %q: %v", n, e.Apath, err),
					BandID: bandName,
				})
				mon.Inc(monitor.CounterErrors, 1)
				return err
			}
			if lastPath != nil && !apath.Less(*lastPath, p) {
				mon.Problem(monitor.Problem{
					Kind:   monitor.ProblemIndexCorrupt,
					Detail: fmt.Sprintf("hunk %d: apath order violated at %q", n, e.Apath),
					BandID: bandName,
				})
				mon.Inc(monitor.CounterErrors, 1)
				return fmt.Errorf("apath order violated")
			}
			lastPath = &p
		}
	}
	return nil
}

// checkBlocks enumerates the block directory and compares it against
// required, reporting missing, short, and (unless opts.SkipBlockHashes)
// corrupt blocks, per spec.md section 4.K steps (d) and (e).
func checkBlocks(a *archive.Archive, required map[chash.Hash]uint64, opts Options, mon *monitor.Monitor) error {
	bd := a.BlockDir()

	present, err := bd.Blocks(func(name string) {
		mon.Problem(monitor.Problem{Kind: monitor.ProblemBlockCorrupt, Detail: "unparseable block filename: " + name})
		mon.Inc(monitor.CounterErrors, 1)
	})
	if err != nil {
		return err
	}

	presentSet := make(map[chash.Hash]struct{}, len(present))
	for _, h := range present {
		presentSet[h] = struct{}{}
	}

	for h, need := range required {
		if _, ok := presentSet[h]; !ok {
			mon.Problem(monitor.Problem{Kind: monitor.ProblemBlockMissing, Hash: h.Hex()})
			mon.Inc(monitor.CounterErrors, 1)
			continue
		}
		length, err := bd.Len(h)
		if err != nil {
			mon.Problem(monitor.Problem{Kind: monitor.ProblemBlockCorrupt, Detail: err.Error(), Hash: h.Hex()})
			mon.Inc(monitor.CounterErrors, 1)
			continue
		}
		if length < need {
			mon.Problem(monitor.Problem{
				Kind:   monitor.ProblemBlockCorrupt,
				Detail: fmt.Sprintf("block is %d bytes, references require at least %d", length, need),
				Hash:   h.Hex(),
			})
			mon.Inc(monitor.CounterErrors, 1)
		}
	}

	if opts.SkipBlockHashes {
		return nil
	}
	for h := range presentSet {
		if _, ok := required[h]; !ok {
			continue // unreferenced blocks are gc's concern, not validate's
		}
		raw, err := bd.Get(h)
		if err != nil {
			mon.Problem(monitor.Problem{Kind: monitor.ProblemBlockCorrupt, Detail: err.Error(), Hash: h.Hex()})
			mon.Inc(monitor.CounterErrors, 1)
			continue
		}
		if got := chash.Sum(raw); got != h {
			mon.Problem(monitor.Problem{
				Kind:   monitor.ProblemBlockCorrupt,
				Detail: fmt.Sprintf("recomputed hash %s disagrees with filename", got),
				Hash:   h.Hex(),
			})
			mon.Inc(monitor.CounterErrors, 1)
		}
	}
	return nil
}

// ProblemCount returns the number of problems mon has recorded, the
// non-zero-problem-count return value spec.md section 4.K calls for.
func ProblemCount(mon *monitor.Monitor) int {
	return len(mon.Problems())
}
