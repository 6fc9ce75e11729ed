// Package gc implements Conserve's garbage collection protocol: a
// safety-snapshotted mark-and-sweep over the block store, serialized
// against concurrent backups by a GC_LOCK file. It generalizes go-git's
// dotgit lock-file discipline (take a ".lock" file before rewriting a
// shared ref) from "one file, one writer" to "one archive-wide exclusive
// operation", per spec.md section 4.L — the hardest correctness problem
// in the core, since a block's file and its index reference are written
// at different times within a single backup.
package gc

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sourcefrog-labs/conserve/archive"
	"github.com/sourcefrog-labs/conserve/band"
	"github.com/sourcefrog-labs/conserve/chash"
	"github.com/sourcefrog-labs/conserve/index"
	"github.com/sourcefrog-labs/conserve/monitor"
	"github.com/sourcefrog-labs/conserve/stitch"
)

// maxConcurrentBands bounds the number of bands stitched in parallel by
// referencedBlocks, so a large archive doesn't open every band's transport
// files and index hunks at once. validate.Run has its own constant of the
// same value.
const maxConcurrentBands = 8

// ErrIncompleteBackup is returned when a GC finds the most recent band
// open: its blocks may already be on disk without their index hunks
// having been written yet, so nothing can safely be swept.
var ErrIncompleteBackup = errors.New("gc: incomplete backup in progress")

// ErrConcurrentActivity is returned when a new band appears between the
// two safety snapshots: some of its blocks may have landed in the
// about-to-be-swept unreferenced set before being indexed.
var ErrConcurrentActivity = errors.New("gc: concurrent activity detected")

// Options configures a collection run.
type Options struct {
	// PID and StartTime are recorded in GC_LOCK for diagnostic purposes.
	PID       int
	StartTime int64
	// BreakLock forcibly removes an existing GC_LOCK before acquiring a
	// new one, for recovering from a crashed GC.
	BreakLock bool
}

// Stats summarizes one collection run.
type Stats struct {
	BlocksReferenced int
	BlocksPresent    int
	BlocksDeleted    int
	DeleteErrors     int
}

// Run executes the full GC algorithm of spec.md section 4.L: acquire the
// lock, snapshot last_band_id, enumerate referenced and present blocks,
// re-snapshot last_band_id to detect concurrent activity, sweep the
// unreferenced set, and release the lock.
func Run(a *archive.Archive, opts Options, mon *monitor.Monitor) (Stats, error) {
	if mon == nil {
		mon = monitor.New(nil)
	}

	lock, err := a.AcquireGCLock(opts.PID, opts.StartTime, opts.BreakLock)
	if err != nil {
		return Stats{}, fmt.Errorf("gc: %w", err)
	}
	defer lock.Release()

	l0, hasBand, err := a.LastBandID()
	if err != nil {
		return Stats{}, fmt.Errorf("gc: snapshot 1: %w", err)
	}
	if hasBand {
		b, err := a.OpenBand(l0)
		if err != nil {
			return Stats{}, fmt.Errorf("gc: snapshot 1: open band %d: %w", l0, err)
		}
		if !b.IsClosed() {
			return Stats{}, ErrIncompleteBackup
		}
	}

	referenced, err := referencedBlocks(a)
	if err != nil {
		return Stats{}, fmt.Errorf("gc: enumerate referenced blocks: %w", err)
	}

	present, err := a.BlockDir().Blocks(func(name string) {
		mon.Problem(monitor.Problem{Kind: monitor.ProblemBlockCorrupt, Detail: "unparseable block filename: " + name})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("gc: enumerate present blocks: %w", err)
	}

	l0Again, hasBandAgain, err := a.LastBandID()
	if err != nil {
		return Stats{}, fmt.Errorf("gc: snapshot 2: %w", err)
	}
	if hasBand != hasBandAgain || l0 != l0Again {
		return Stats{}, ErrConcurrentActivity
	}

	stats := Stats{BlocksReferenced: len(referenced), BlocksPresent: len(present)}
	bd := a.BlockDir()
	for _, h := range present {
		if _, ok := referenced[h]; ok {
			continue
		}
		if err := bd.Delete(h); err != nil {
			stats.DeleteErrors++
			mon.Inc(monitor.CounterErrors, 1)
			mon.Logf("gc: delete %s: %v", h, err)
			continue
		}
		stats.BlocksDeleted++
		mon.Inc(monitor.CounterBlocksDeleted, 1)
	}
	mon.Inc(monitor.CounterBlocksRetained, int64(len(referenced)))
	return stats, nil
}

// referencedBlocks walks every band's stitched index and collects the set
// of block hashes any entry addresses, per spec.md section 4.L step 3.
// Unlike validate, GC only needs presence, not max_required_length. Bands
// are stitched concurrently, bounded by maxConcurrentBands, since each
// band's walk is independent and touches only its own transport reads.
func referencedBlocks(a *archive.Archive) (map[chash.Hash]struct{}, error) {
	ids, err := a.BandIDs()
	if err != nil {
		return nil, err
	}
	var (
		eg  errgroup.Group
		mu  sync.Mutex
		out = make(map[chash.Hash]struct{})
	)
	eg.SetLimit(maxConcurrentBands)
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			local := make(map[chash.Hash]struct{})
			err := stitch.Stitch(a, id, index.Options{}, func(e index.Entry) error {
				for _, addr := range e.Addrs {
					local[addr.Hash] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("band %d: %w", id, err)
			}
			mu.Lock()
			for h := range local {
				out[h] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBands removes the given band directories outright, an orthogonal
// command from block collection (spec.md section 4.L, "Band deletion").
// If a deleted band had been used as a basis by a newer band, stitching
// transparently searches further back; nothing here needs to know that.
// After deletion, callers should run Run to reap newly-unreferenced
// blocks, since DeleteBands itself only removes band metadata and index
// hunks, never block content.
func DeleteBands(a *archive.Archive, ids []int) error {
	tr := a.Transport()
	for _, id := range ids {
		if err := tr.RemoveDirAll(band.IDName(id)); err != nil {
			return fmt.Errorf("gc: delete band %d: %w", id, err)
		}
	}
	return nil
}
