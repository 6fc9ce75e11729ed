package gc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcefrog-labs/conserve/archive"
	"github.com/sourcefrog-labs/conserve/backup"
	"github.com/sourcefrog-labs/conserve/band"
	"github.com/sourcefrog-labs/conserve/gc"
	"github.com/sourcefrog-labs/conserve/monitor"
	"github.com/sourcefrog-labs/conserve/transport/local"
	"github.com/sourcefrog-labs/conserve/validate"
)

func countBlocks(t *testing.T, archiveDir string) int {
	t.Helper()
	var n int
	prefixes, err := os.ReadDir(filepath.Join(archiveDir, "d"))
	require.NoError(t, err)
	for _, p := range prefixes {
		files, err := os.ReadDir(filepath.Join(archiveDir, "d", p.Name()))
		require.NoError(t, err)
		n += len(files)
	}
	return n
}

func TestGCKeepsBlocksStillReferencedByOlderBands(t *testing.T) {
	// Conserve keeps full historical versions, so a block only a superseded
	// band still points at remains referenced and must survive GC — only
	// deleting the band itself (gc.DeleteBands) makes it collectible.
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "keep.txt"), []byte("this block stays referenced"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "drop.txt"), []byte("this block becomes unreferenced later"), 0o644))

	archiveDir := t.TempDir()
	tr := local.New(archiveDir)
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)
	// A combine threshold of 1 byte stores each file as its own block instead
	// of combining both into one.
	opts := backup.Options{CombineThreshold: 1}
	_, err = backup.Backup(a, src, opts, monitor.New(nil))
	require.NoError(t, err)

	before := countBlocks(t, archiveDir)
	require.GreaterOrEqual(t, before, 2)

	require.NoError(t, os.Remove(filepath.Join(src, "drop.txt")))
	_, err = backup.Backup(a, src, opts, monitor.New(nil))
	require.NoError(t, err)

	mon := monitor.New(nil)
	stats, err := gc.Run(a, gc.Options{}, mon)
	require.NoError(t, err)
	require.Equal(t, 0, stats.BlocksDeleted)

	after := countBlocks(t, archiveDir)
	require.Equal(t, before, after)

	vmon := monitor.New(nil)
	require.NoError(t, validate.Run(a, validate.Options{}, vmon))
	require.Equal(t, 0, validate.ProblemCount(vmon))
}

func TestGCRefusesToRunWithIncompleteBand(t *testing.T) {
	archiveDir := t.TempDir()
	tr := local.New(archiveDir)
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)

	id, err := a.NextBandID()
	require.NoError(t, err)
	_, err = band.Create(a.Transport(), id, 0, nil)
	require.NoError(t, err) // left open: never closed

	_, err = gc.Run(a, gc.Options{}, monitor.New(nil))
	require.ErrorIs(t, err, gc.ErrIncompleteBackup)
}

func TestGCSecondAcquireFailsWhileLockHeld(t *testing.T) {
	archiveDir := t.TempDir()
	tr := local.New(archiveDir)
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)

	lock, err := a.AcquireGCLock(1, 0, false)
	require.NoError(t, err)
	defer lock.Release()

	require.Error(t, a.CheckNoGCLock())

	_, err = a.AcquireGCLock(2, 0, false)
	require.ErrorIs(t, err, archive.ErrLockHeld)
}

func TestDeleteBandsRemovesBandThenGCReapsItsBlocks(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "only.txt"), []byte("sole content of the only band"), 0o644))

	archiveDir := t.TempDir()
	tr := local.New(archiveDir)
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)
	b, err := backup.Backup(a, src, backup.Options{}, monitor.New(nil))
	require.NoError(t, err)

	require.NoError(t, gc.DeleteBands(a, []int{b.ID}))

	ids, err := a.BandIDs()
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = gc.Run(a, gc.Options{}, monitor.New(nil))
	require.NoError(t, err)

	after := countBlocks(t, archiveDir)
	require.Equal(t, 0, after)
}
