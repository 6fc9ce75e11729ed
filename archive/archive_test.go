package archive_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcefrog-labs/conserve/archive"
	"github.com/sourcefrog-labs/conserve/band"
	"github.com/sourcefrog-labs/conserve/transport/local"
)

func TestCreateThenOpen(t *testing.T) {
	tr := local.New(t.TempDir())
	_, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)

	a, err := archive.Open(tr, archive.Options{})
	require.NoError(t, err)
	ids, err := a.BandIDs()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestCreateTwiceFails(t *testing.T) {
	tr := local.New(t.TempDir())
	_, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)
	_, err = archive.Create(tr, archive.Options{})
	require.ErrorIs(t, err, archive.ErrNotEmpty)
}

func TestOpenNonArchiveFails(t *testing.T) {
	tr := local.New(t.TempDir())
	_, err := archive.Open(tr, archive.Options{})
	require.ErrorIs(t, err, archive.ErrNotAnArchive)
}

func TestBandIDsAndNext(t *testing.T) {
	tr := local.New(t.TempDir())
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)

	next, err := a.NextBandID()
	require.NoError(t, err)
	require.Equal(t, 0, next)

	_, err = band.Create(a.Transport(), 0, 0, nil)
	require.NoError(t, err)
	_, err = band.Create(a.Transport(), 1, 0, nil)
	require.NoError(t, err)

	ids, err := a.BandIDs()
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, ids)

	next, err = a.NextBandID()
	require.NoError(t, err)
	require.Equal(t, 2, next)
}

func TestLastCompleteBandSkipsIncomplete(t *testing.T) {
	tr := local.New(t.TempDir())
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)

	b0, err := band.Create(a.Transport(), 0, 0, nil)
	require.NoError(t, err)
	require.NoError(t, b0.Close(1, band.Stats{}))

	_, err = band.Create(a.Transport(), 1, 0, nil) // left incomplete

	last, err := a.LastCompleteBand()
	require.NoError(t, err)
	require.NotNil(t, last)
	require.Equal(t, 0, last.ID)
}

func TestGCLockExcludesSecondAcquire(t *testing.T) {
	tr := local.New(t.TempDir())
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)

	lock, err := a.AcquireGCLock(1, 0, false)
	require.NoError(t, err)
	require.ErrorIs(t, a.CheckNoGCLock(), archive.ErrGCLockHeld)

	_, err = a.AcquireGCLock(2, 0, false)
	require.ErrorIs(t, err, archive.ErrLockHeld)

	require.NoError(t, lock.Release())
	require.NoError(t, a.CheckNoGCLock())
}
