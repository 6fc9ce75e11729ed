package index_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/index"
	"github.com/sourcefrog-labs/conserve/transport/local"
)

func TestWriteReadRoundTrip(t *testing.T) {
	tr := local.New(t.TempDir())
	w := index.NewWriter(tr)
	entries := []index.Entry{
		{Apath: "/", Kind: index.KindDir},
		{Apath: "/a", Kind: index.KindFile, Addrs: []index.Address{{Start: 0, Len: 3}}},
		{Apath: "/b", Kind: index.KindFile},
	}
	for _, e := range entries {
		require.NoError(t, w.Add(e))
	}
	require.NoError(t, w.Finalize())
	require.Equal(t, 1, w.HunksWritten())

	r := index.NewReader(tr)
	nums, err := r.HunkNumbers()
	require.NoError(t, err)
	require.Equal(t, []int{0}, nums)

	var got []index.Entry
	require.NoError(t, r.Iterate(index.Options{}, func(e index.Entry) error {
		got = append(got, e)
		return nil
	}))
	require.Equal(t, entries, got)
}

func TestAddOutOfOrderFails(t *testing.T) {
	tr := local.New(t.TempDir())
	w := index.NewWriter(tr)
	require.NoError(t, w.Add(index.Entry{Apath: "/b", Kind: index.KindFile}))
	require.NoError(t, w.Finalize())
	err := w.Add(index.Entry{Apath: "/a", Kind: index.KindFile})
	require.ErrorIs(t, err, index.ErrOutOfOrder)
}

func TestFinalizeDoesNotWriteEmptyHunk(t *testing.T) {
	tr := local.New(t.TempDir())
	w := index.NewWriter(tr)
	require.NoError(t, w.Finalize())
	require.Equal(t, 0, w.HunksWritten())

	r := index.NewReader(tr)
	nums, err := r.HunkNumbers()
	require.NoError(t, err)
	require.Empty(t, nums)
}

func TestMultipleHunksStayOrdered(t *testing.T) {
	tr := local.New(t.TempDir())
	w := index.NewWriter(tr).WithHunkTargetBytes(10) // force a flush per entry
	paths := []string{"/a", "/b", "/c", "/d"}
	for _, p := range paths {
		require.NoError(t, w.Add(index.Entry{Apath: p, Kind: index.KindFile}))
	}
	require.NoError(t, w.Finalize())
	require.GreaterOrEqual(t, w.HunksWritten(), 2)

	r := index.NewReader(tr)
	var gotPaths []string
	require.NoError(t, r.Iterate(index.Options{}, func(e index.Entry) error {
		gotPaths = append(gotPaths, e.Apath)
		return nil
	}))
	require.Equal(t, paths, gotPaths)
}

func TestSubtreeFilter(t *testing.T) {
	tr := local.New(t.TempDir())
	w := index.NewWriter(tr)
	for _, p := range []string{"/a", "/b", "/b/c", "/b/d", "/c"} {
		require.NoError(t, w.Add(index.Entry{Apath: p, Kind: index.KindFile}))
	}
	require.NoError(t, w.Finalize())

	r := index.NewReader(tr)
	subtree := apath.MustNew("/b")
	var got []string
	require.NoError(t, r.Iterate(index.Options{Subtree: &subtree}, func(e index.Entry) error {
		got = append(got, e.Apath)
		return nil
	}))
	require.Equal(t, []string{"/b", "/b/c", "/b/d"}, got)
}

func TestExcludeFilter(t *testing.T) {
	tr := local.New(t.TempDir())
	w := index.NewWriter(tr)
	for _, p := range []string{"/a", "/a.tmp", "/b"} {
		require.NoError(t, w.Add(index.Entry{Apath: p, Kind: index.KindFile}))
	}
	require.NoError(t, w.Finalize())

	r := index.NewReader(tr)
	var got []string
	require.NoError(t, r.Iterate(index.Options{Exclude: apath.NewExcluder([]string{"*.tmp"})}, func(e index.Entry) error {
		got = append(got, e.Apath)
		return nil
	}))
	require.Equal(t, []string{"/a", "/b"}, got)
}
