// Package archive implements Conserve's top-level archive: the CONSERVE
// header, band enumeration, and GC lock coordination, owning the single
// shared BlockDir presence cache per archive (spec.md section 9: "the
// block-presence cache is per-archive, not process-global"). This mirrors
// go-git's storage/filesystem.Storage, which likewise owns a filesystem, a
// loose-object directory and a shared object cache behind one type.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sourcefrog-labs/conserve/band"
	"github.com/sourcefrog-labs/conserve/blockdir"
	"github.com/sourcefrog-labs/conserve/transport"
)

const (
	headerRelpath  = "CONSERVE"
	blockDirName   = "d"
	gcLockRelpath  = "GC_LOCK"

	// ArchiveVersion is the only archive format version this implementation
	// writes and the one it accepts on read (spec.md section 3).
	ArchiveVersion = "0.6"
)

// ErrNotAnArchive is returned when the header is missing or doesn't parse.
var ErrNotAnArchive = errors.New("archive: not a conserve archive")

// ErrUnsupportedVersion is returned when the header names an archive
// version this implementation doesn't recognize.
var ErrUnsupportedVersion = errors.New("archive: unsupported archive version")

// ErrGCLockHeld is returned by CheckNoGCLock, which a backup calls before
// starting, while a GC is in progress (spec.md section 4.L / section 7:
// GarbageCollectionLockHeld).
var ErrGCLockHeld = errors.New("archive: garbage collection lock held")

// ErrLockHeld is returned by AcquireGCLock when a GC is already running.
var ErrLockHeld = errors.New("archive: lock held")

// ErrNotEmpty is returned by Create when the target directory already has a
// header (spec.md section 3: "created once (empty-directory precondition)").
var ErrNotEmpty = errors.New("archive: directory is not empty")

type header struct {
	ConserveArchiveVersion string `json:"conserve_archive_version"`
}

// Archive is a single backup archive: transport root, block directory, and
// band enumeration.
type Archive struct {
	tr       transport.Transport
	blockDir *blockdir.BlockDir
}

// Options configures the archive's BlockDir.
type Options struct {
	BlockDir blockdir.Options
}

// Create initializes a new, empty archive at tr.
func Create(tr transport.Transport, opts Options) (*Archive, error) {
	if _, err := tr.Metadata(headerRelpath); err == nil {
		return nil, ErrNotEmpty
	}
	h := header{ConserveArchiveVersion: ArchiveVersion}
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("archive: serialize header: %w", err)
	}
	if err := tr.Write(headerRelpath, raw, transport.CreateNew); err != nil {
		return nil, fmt.Errorf("archive: write header: %w", err)
	}
	if err := tr.CreateDir(blockDirName); err != nil {
		return nil, fmt.Errorf("archive: create block dir: %w", err)
	}
	return newArchive(tr, opts), nil
}

// Open opens an existing archive at tr, validating its header.
func Open(tr transport.Transport, opts Options) (*Archive, error) {
	raw, err := tr.Read(headerRelpath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnArchive, err)
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnArchive, err)
	}
	if h.ConserveArchiveVersion != ArchiveVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, h.ConserveArchiveVersion)
	}
	return newArchive(tr, opts), nil
}

func newArchive(tr transport.Transport, opts Options) *Archive {
	return &Archive{tr: tr, blockDir: blockdir.New(tr.Sub(blockDirName), opts.BlockDir)}
}

// Transport returns the archive's root transport.
func (a *Archive) Transport() transport.Transport { return a.tr }

// BlockDir returns the archive's shared block directory.
func (a *Archive) BlockDir() *blockdir.BlockDir { return a.blockDir }

// BandIDs lists every existing band id, ascending. Per spec.md section 3
// invariant 5, ids normally form a dense prefix from 0, but gaps created by
// band deletion are valid and simply skipped.
func (a *Archive) BandIDs() ([]int, error) {
	entries, err := a.tr.ListDir(".")
	if transport.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: list bands: %w", err)
	}
	var ids []int
	for _, e := range entries {
		if e.Kind != transport.DirKind {
			continue
		}
		var id int
		if n, _ := fmt.Sscanf(e.Name, "b%04d", &id); n == 1 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// NextBandID returns max(existing)+1, or 0 if the archive has no bands.
func (a *Archive) NextBandID() (int, error) {
	ids, err := a.BandIDs()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[len(ids)-1] + 1, nil
}

// OpenBand opens the band with the given id.
func (a *Archive) OpenBand(id int) (*band.Band, error) {
	return band.Open(a.tr, id)
}

// LastBandID returns the highest existing band id and true, or (0, false)
// if the archive has no bands. Used by GC's safety snapshots (spec.md
// section 4.L).
func (a *Archive) LastBandID() (int, bool, error) {
	ids, err := a.BandIDs()
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[len(ids)-1], true, nil
}

// LastCompleteBand returns the most recent closed band, or nil if none
// exists. backup.Writer uses this to choose a basis for its diff.
func (a *Archive) LastCompleteBand() (*band.Band, error) {
	ids, err := a.BandIDs()
	if err != nil {
		return nil, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		b, err := band.Open(a.tr, ids[i])
		if err != nil {
			continue
		}
		if b.IsClosed() {
			return b, nil
		}
	}
	return nil, nil
}

// CheckNoGCLock returns ErrGCLockHeld if a garbage collection is in
// progress. BackupWriter calls this before starting (spec.md section 4.L).
func (a *Archive) CheckNoGCLock() error {
	if _, err := a.tr.Metadata(gcLockRelpath); err == nil {
		return ErrGCLockHeld
	}
	return nil
}
