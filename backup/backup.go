// Package backup implements Conserve's BackupWriter: a depth-first source
// walk, zip-merged against the previous complete band's stitched index,
// driving block storage and index writing per spec.md section 4.J. The
// pipeline shape — stat, classify, defer content I/O behind a small
// buffering stage, hand finished records to a sink — follows go-git's
// worktree status code (stat each entry, compare against the index,
// classify Unmodified/Modified/Added/Deleted) generalized from a two-way
// git diff to Conserve's basis/source diff.
package backup

import (
	"fmt"
	"time"

	"github.com/sourcefrog-labs/conserve/archive"
	"github.com/sourcefrog-labs/conserve/band"
	"github.com/sourcefrog-labs/conserve/monitor"
)

// Backup runs one backup of sourceDir into a, writing a new band. On
// success the band is closed (has a tail). On a fatal transport error the
// band is left without a tail for the Stitcher to mask on the next read
// (spec.md section 4.J "Failure semantics"); the partially-written band is
// still returned so callers can inspect its id.
func Backup(a *archive.Archive, sourceDir string, opts Options, mon *monitor.Monitor) (*band.Band, error) {
	if mon == nil {
		mon = monitor.New(nil)
	}
	if err := a.CheckNoGCLock(); err != nil {
		return nil, err
	}

	id, err := a.NextBandID()
	if err != nil {
		return nil, fmt.Errorf("backup: choose band id: %w", err)
	}
	startTime := time.Now().Unix()
	b, err := band.Create(a.Transport(), id, startTime, nil)
	if err != nil {
		return nil, fmt.Errorf("backup: create band: %w", err)
	}

	basis := emptyCursor()
	if lastComplete, err := a.LastCompleteBand(); err != nil {
		return b, fmt.Errorf("backup: find basis band: %w", err)
	} else if lastComplete != nil {
		basis = newBasisCursor(a, lastComplete.ID)
	}

	wr := newWriter(a.BlockDir(), opts, mon)
	iw := b.IndexWriter()
	if err := wr.writeTree(sourceDir, basis, iw); err != nil {
		return b, fmt.Errorf("backup: %w", err)
	}
	if err := iw.Finalize(); err != nil {
		return b, fmt.Errorf("backup: finalize index: %w", err)
	}

	stats := band.Stats{
		FilesAdded:         mon.Count(monitor.CounterFilesAdded),
		FilesChanged:       mon.Count(monitor.CounterFilesChanged),
		FilesUnchanged:     mon.Count(monitor.CounterFilesUnchanged),
		FilesDeleted:       mon.Count(monitor.CounterFilesDeleted),
		EmptyFiles:         mon.Count(monitor.CounterEmptyFiles),
		BlocksWritten:      mon.Count(monitor.CounterBlocksWritten),
		DeduplicatedBlocks: mon.Count(monitor.CounterDeduplicatedBlocks),
		Errors:             mon.Count(monitor.CounterErrors),
	}
	if err := b.Close(time.Now().Unix(), stats); err != nil {
		return b, fmt.Errorf("backup: close band: %w", err)
	}
	return b, nil
}
