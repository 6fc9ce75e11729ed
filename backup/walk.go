package backup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/index"
	"github.com/sourcefrog-labs/conserve/monitor"
)

// writeTree walks sourceRoot in apath order (fs.WalkDir already visits a
// directory's own entry before recursing into its children, in
// lexicographic sibling order — exactly the directory-aware total order
// apath.Compare defines), zip-merging each entry against basis by apath,
// and emits the resulting IndexEntry stream to iw.
func (w *writer) writeTree(sourceRoot string, basis *basisCursor, iw *index.Writer) error {
	err := filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.mon.Inc(monitor.CounterErrors, 1)
			w.mon.Logf("backup: skip %s: %v", path, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		p, err := sourceApath(sourceRoot, path)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		if w.opts.Exclude.Match(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if err := w.mergeUpTo(basis, p); err != nil {
			return err
		}

		entry, awaitingCombine, err := w.buildEntry(path, p, d, basis)
		if err != nil {
			w.mon.Inc(monitor.CounterErrors, 1)
			w.mon.Logf("backup: read %s: %v", path, err)
			return nil // omitted: appears deleted relative to basis (spec.md section 4.J)
		}
		return w.submit(iw, entry, awaitingCombine)
	})
	if err != nil {
		return err
	}

	// Anything left in basis beyond the end of the source tree is deleted.
	for {
		be, berr := basis.Peek()
		if berr != nil {
			return berr
		}
		if be == nil {
			break
		}
		w.mon.Inc(monitor.CounterFilesDeleted, 1)
		basis.Advance()
	}
	return w.checkpoint(iw)
}

// mergeUpTo advances basis past every entry that sorts strictly before p,
// counting each as deleted: the source walk has already passed the point
// where that basis path would have appeared.
func (w *writer) mergeUpTo(basis *basisCursor, p apath.Apath) error {
	for {
		be, err := basis.Peek()
		if err != nil {
			return err
		}
		if be == nil {
			return nil
		}
		if apath.Less(be.MustPath(), p) {
			w.mon.Inc(monitor.CounterFilesDeleted, 1)
			basis.Advance()
			continue
		}
		return nil
	}
}

// buildEntry stats path, classifies it, and (for files needing new
// content) stores its bytes. The second return reports whether the
// built entry's sole address is still waiting on the combine buffer's
// hash, per spec.md section 4.J step 3.
func (w *writer) buildEntry(path string, p apath.Apath, d fs.DirEntry, basis *basisCursor) (index.Entry, bool, error) {
	info, err := d.Info()
	if err != nil {
		return index.Entry{}, false, err
	}

	o, mode, err := w.statOwnerMode(path)
	if err != nil {
		return index.Entry{}, false, err
	}
	e := index.Entry{
		Apath:      p.String(),
		MTime:      info.ModTime().Unix(),
		MTimeNanos: uint32(info.ModTime().Nanosecond()),
		UnixMode:   mode,
		User:       o.User,
		Group:      o.Group,
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		e.Kind = index.KindSymlink
		target, err := os.Readlink(path)
		if err != nil {
			return index.Entry{}, false, err
		}
		e.Target = target
	case info.IsDir():
		e.Kind = index.KindDir
	default:
		e.Kind = index.KindFile
	}

	basisMatch, _ := basis.Peek()
	var matched *index.Entry
	if basisMatch != nil && basisMatch.Apath == e.Apath {
		matched = basisMatch
	}

	if e.Kind != index.KindFile {
		w.classify(matched, e)
		if matched != nil {
			basis.Advance()
		}
		return e, false, nil
	}

	size := uint64(info.Size())
	if matched != nil && matched.SameMetadata(e) {
		e.Addrs = matched.Addrs
		w.mon.Inc(monitor.CounterFilesUnchanged, 1)
		basis.Advance()
		return e, false, nil
	}

	if matched != nil {
		w.mon.Inc(monitor.CounterFilesChanged, 1)
		basis.Advance()
	} else {
		w.mon.Inc(monitor.CounterFilesAdded, 1)
	}

	addrs, err := w.storeFileContent(path, size)
	if err != nil {
		return index.Entry{}, false, err
	}
	e.Addrs = addrs
	awaitingCombine := size > 0 && size <= w.opts.CombineThreshold
	return e, awaitingCombine, nil
}

func (w *writer) classify(matched *index.Entry, e index.Entry) {
	switch {
	case matched == nil:
		w.mon.Inc(monitor.CounterFilesAdded, 1)
	case matched.SameMetadata(e):
		w.mon.Inc(monitor.CounterFilesUnchanged, 1)
	default:
		w.mon.Inc(monitor.CounterFilesChanged, 1)
	}
}

func sourceApath(root, path string) (apath.Apath, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return apath.Apath{}, err
	}
	if rel == "." {
		return apath.Root, nil
	}
	return apath.New("/" + filepath.ToSlash(rel))
}
