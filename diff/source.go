package diff

import (
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/index"
	"github.com/sourcefrog-labs/conserve/internal/owner"
	"github.com/sourcefrog-labs/conserve/stitch"
)

// Source yields IndexEntry values in strict apath order, pulled one at a
// time. Both sides of a Diff are a Source: a stitched band, a raw index,
// or a live filesystem tree.
type Source interface {
	// Next returns the next entry, or (nil, nil) when exhausted.
	Next() (*index.Entry, error)
}

// chanSource adapts a push-style producer (an EntryFunc callback walk) into
// the pull-style Source Diff's merge loop needs, the same generator-over-a-
// channel bridge package backup uses for the basis side of its own merge.
type chanSource struct {
	entries chan index.Entry
	done    chan error
}

func newChanSource(produce func(func(index.Entry) error) error) *chanSource {
	c := &chanSource{entries: make(chan index.Entry, 64), done: make(chan error, 1)}
	go func() {
		defer close(c.entries)
		c.done <- produce(func(e index.Entry) error {
			c.entries <- e
			return nil
		})
	}()
	return c
}

func (c *chanSource) Next() (*index.Entry, error) {
	e, ok := <-c.entries
	if !ok {
		if err := <-c.done; err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &e, nil
}

// FromStitch returns a Source over bandID's stitched index.
func FromStitch(opener stitch.BandOpener, bandID int, opts index.Options) Source {
	return newChanSource(func(fn func(index.Entry) error) error {
		return stitch.Stitch(opener, bandID, opts, fn)
	})
}

// FromIndexReader returns a Source over a single band's own index, with no
// stitching onto a predecessor.
func FromIndexReader(r *index.Reader, opts index.Options) Source {
	return newChanSource(func(fn func(index.Entry) error) error {
		return r.Iterate(opts, fn)
	})
}

// FromTree returns a Source walking a live filesystem tree, built the same
// way package backup's walker is (fs.WalkDir visits in apath order
// already), but without reading or storing any file content — Diff only
// needs enough metadata to classify each entry, not its bytes.
func FromTree(root string, exclude apath.Excluder) Source {
	ownerResolver := owner.New()
	return newChanSource(func(fn func(index.Entry) error) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			p, err := treeApath(root, path)
			if err != nil {
				return err
			}
			if exclude.Match(p) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			var st unix.Stat_t
			if err := unix.Lstat(path, &st); err != nil {
				return err
			}
			o := ownerResolver.Lookup(st.Uid, st.Gid)
			e := index.Entry{
				Apath:      p.String(),
				MTime:      info.ModTime().Unix(),
				MTimeNanos: uint32(info.ModTime().Nanosecond()),
				UnixMode:   uint32(st.Mode & 0o7777),
				User:       o.User,
				Group:      o.Group,
			}
			switch {
			case info.Mode()&fs.ModeSymlink != 0:
				e.Kind = index.KindSymlink
				target, err := os.Readlink(path)
				if err != nil {
					return err
				}
				e.Target = target
			case info.IsDir():
				e.Kind = index.KindDir
			default:
				e.Kind = index.KindFile
				// No block is stored for a live-tree entry; a length-only
				// address is enough for Entry.Size()/SameMetadata to work.
				e.Addrs = []index.Address{{Len: uint64(info.Size())}}
			}
			return fn(e)
		})
	})
}

func treeApath(root, path string) (apath.Apath, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return apath.Apath{}, err
	}
	if rel == "." {
		return apath.Root, nil
	}
	return apath.New("/" + filepath.ToSlash(rel))
}
