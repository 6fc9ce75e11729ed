package restore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcefrog-labs/conserve/archive"
	"github.com/sourcefrog-labs/conserve/backup"
	"github.com/sourcefrog-labs/conserve/monitor"
	"github.com/sourcefrog-labs/conserve/restore"
	"github.com/sourcefrog-labs/conserve/transport/local"
)

func TestRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("nested"), 0o644))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))

	tr := local.New(t.TempDir())
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)

	b, err := backup.Backup(a, src, backup.Options{}, monitor.New(nil))
	require.NoError(t, err)

	dest := t.TempDir()
	mon := monitor.New(nil)
	require.NoError(t, restore.Run(a, b.ID, dest, restore.Options{}, mon))
	require.EqualValues(t, 0, mon.Count(monitor.CounterErrors))

	gotA, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "nested", string(gotB))

	target, err := os.Readlink(filepath.Join(dest, "link"))
	require.NoError(t, err)
	require.Equal(t, "a.txt", target)
}

func TestRestoreLargeFileReassemblesChunks(t *testing.T) {
	src := t.TempDir()
	data := make([]byte, 2*backup.DefaultMaxBlockBytes+5)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), data, 0o644))

	tr := local.New(t.TempDir())
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)
	b, err := backup.Backup(a, src, backup.Options{}, monitor.New(nil))
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, restore.Run(a, b.ID, dest, restore.Options{}, monitor.New(nil)))

	got, err := os.ReadFile(filepath.Join(dest, "big.bin"))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestRestoreRefusesOverwriteByDefault(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))

	tr := local.New(t.TempDir())
	a, err := archive.Create(tr, archive.Options{})
	require.NoError(t, err)
	b, err := backup.Backup(a, src, backup.Options{}, monitor.New(nil))
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("already here"), 0o644))

	mon := monitor.New(nil)
	require.NoError(t, restore.Run(a, b.ID, dest, restore.Options{}, mon))
	require.EqualValues(t, 1, mon.Count(monitor.CounterErrors))

	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "already here", string(got))
}
