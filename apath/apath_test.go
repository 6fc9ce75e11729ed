package apath_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcefrog-labs/conserve/apath"
)

func TestNewRejectsInvalid(t *testing.T) {
	for _, s := range []string{
		"", "no-leading-slash", "/a/", "/a//b", "/a/./b", "/a/../b", "/./", "/..",
		"/a\x00b",
	} {
		_, err := apath.New(s)
		require.Error(t, err, "expected error for %q", s)
	}
}

func TestNewAcceptsValid(t *testing.T) {
	for _, s := range []string{"/", "/a", "/a/b", "/a/b/c", "/日本語"} {
		p, err := apath.New(s)
		require.NoError(t, err)
		require.Equal(t, s, p.String())
	}
}

func TestIsPrefixOf(t *testing.T) {
	root := apath.Root
	a := apath.MustNew("/a")
	ab := apath.MustNew("/a/b")
	ac := apath.MustNew("/ac")

	require.True(t, root.IsPrefixOf(a))
	require.True(t, a.IsPrefixOf(a))
	require.True(t, a.IsPrefixOf(ab))
	require.False(t, a.IsPrefixOf(ac))
	require.False(t, ab.IsPrefixOf(a))
}

// TestDirectoryAwareOrder checks the open question from spec.md section 9:
// within a directory, a file sorts before a subdirectory of the same name.
func TestDirectoryAwareOrder(t *testing.T) {
	file := apath.MustNew("/a/b")
	dirChild := apath.MustNew("/a/b/c")
	require.True(t, apath.Less(file, dirChild), "/a/b (file) must sort before /a/b/c")

	sibling := apath.MustNew("/a/bc")
	require.True(t, apath.Less(dirChild, sibling), "/a/b/c must sort before /a/bc")
}

// TestOrderMatchesWalk builds a small synthetic tree and checks that the
// natural depth-first walk order (each directory's entry first, then its
// children in name order, as filepath.WalkDir visits them) equals sorting by
// apath.Compare.
func TestOrderMatchesWalk(t *testing.T) {
	type node struct {
		path     string
		isDir    bool
		children []*node
	}
	var walk func(n *node, out *[]string)
	walk = func(n *node, out *[]string) {
		*out = append(*out, n.path)
		if !n.isDir {
			return
		}
		children := append([]*node(nil), n.children...)
		sort.Slice(children, func(i, j int) bool {
			return children[i].path < children[j].path
		})
		for _, c := range children {
			walk(c, out)
		}
	}

	tree := &node{path: "/", isDir: true, children: []*node{
		{path: "/a", isDir: false},
		{path: "/b", isDir: true, children: []*node{
			{path: "/b/x", isDir: false},
			{path: "/b/y", isDir: true, children: []*node{
				{path: "/b/y/z", isDir: false},
			}},
		}},
		{path: "/c", isDir: false},
	}}

	var walked []string
	walk(tree, &walked)

	sorted := append([]string(nil), walked...)
	sort.Slice(sorted, func(i, j int) bool {
		return apath.Less(apath.MustNew(sorted[i]), apath.MustNew(sorted[j]))
	})
	require.Equal(t, walked, sorted)
}

func TestCompareTotalOrder(t *testing.T) {
	paths := []string{"/", "/a", "/a/b", "/a/b/c", "/ab", "/b"}
	shuffled := append([]string(nil), paths...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	sort.Slice(shuffled, func(i, j int) bool {
		return apath.Less(apath.MustNew(shuffled[i]), apath.MustNew(shuffled[j]))
	})
	require.Equal(t, paths, shuffled)
}

func TestAppend(t *testing.T) {
	require.Equal(t, "/a", apath.Root.Append("a").String())
	require.Equal(t, "/a/b", apath.MustNew("/a").Append("b").String())
}
