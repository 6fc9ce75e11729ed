// Package restore writes a stitched band's index back out to a real
// filesystem: the mirror image of package backup. It follows go-git's
// worktree checkout code (create parent directories, write blobs, apply
// mode bits, best-effort ownership) generalized from "write a git tree" to
// "write a stitched Conserve index" per spec.md section 4.K.
package restore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/archive"
	"github.com/sourcefrog-labs/conserve/index"
	"github.com/sourcefrog-labs/conserve/internal/owner"
	"github.com/sourcefrog-labs/conserve/monitor"
	"github.com/sourcefrog-labs/conserve/stitch"
)

// Options configures a restore run.
type Options struct {
	// Subtree, if set, restores only entries at or under this apath.
	Subtree *apath.Apath
	// Exclude filters out matching entries, same as backup.Options.Exclude.
	Exclude apath.Excluder
	// Overwrite allows restoring into a destination that already has the
	// file at a given path; false fails that one file and continues.
	Overwrite bool
}

// Run restores bandID's stitched index into destDir. It does not mutate
// the archive. Per-entry failures (a block missing or corrupt, a file that
// cannot be written, a permission error applying mtime/mode) are recorded
// on mon and do not abort the restore; a failure to read the index itself,
// or to create destDir, is fatal.
func Run(a *archive.Archive, bandID int, destDir string, opts Options, mon *monitor.Monitor) error {
	if mon == nil {
		mon = monitor.New(nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("restore: create destination: %w", err)
	}
	r := &restorer{archive: a, destDir: destDir, opts: opts, mon: mon, owner: owner.New()}

	iterOpts := index.Options{Subtree: opts.Subtree, Exclude: opts.Exclude}
	return stitch.Stitch(a, bandID, iterOpts, func(e index.Entry) error {
		if err := r.restoreEntry(e); err != nil {
			mon.Inc(monitor.CounterErrors, 1)
			mon.Logf("restore: %s: %v", e.Apath, err)
		}
		return nil
	})
}

type restorer struct {
	archive *archive.Archive
	destDir string
	opts    Options
	mon     *monitor.Monitor
	owner   *owner.Resolver
}

func (r *restorer) restoreEntry(e index.Entry) error {
	dest := r.destPath(e.Apath)
	if e.Apath == "/" {
		return r.applyMetadata(dest, e)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}

	switch e.Kind {
	case index.KindDir:
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	case index.KindSymlink:
		if !r.opts.Overwrite {
			if _, err := os.Lstat(dest); err == nil {
				return fmt.Errorf("destination exists: %s", dest)
			}
		} else {
			_ = os.Remove(dest)
		}
		if err := os.Symlink(e.Target, dest); err != nil {
			return fmt.Errorf("symlink: %w", err)
		}
		return nil // symlinks have no mtime/mode/owner worth applying
	case index.KindFile:
		if !r.opts.Overwrite {
			if _, err := os.Lstat(dest); err == nil {
				return fmt.Errorf("destination exists: %s", dest)
			}
		}
		if err := r.writeFile(dest, e); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
	}
	return r.applyMetadata(dest, e)
}

func (r *restorer) writeFile(dest string, e index.Entry) error {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	bd := r.archive.BlockDir()
	for _, a := range e.Addrs {
		data, err := bd.GetRange(a.Hash, a.Start, a.Len)
		if err != nil {
			return fmt.Errorf("read block %s: %w", a.Hash, err)
		}
		if _, err := f.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// applyMetadata sets mtime, unix_mode, and (best-effort) owner on an
// already-written path. EPERM and similar ownership failures are swallowed
// per spec.md section 4.K: restore never fails over ownership it lacks
// privilege to apply.
func (r *restorer) applyMetadata(dest string, e index.Entry) error {
	if e.Kind == index.KindSymlink {
		return nil
	}
	if e.UnixMode != 0 {
		if err := os.Chmod(dest, os.FileMode(e.UnixMode)); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}
	if uid, gid, ok := r.owner.ResolveIDs(e.User, e.Group); ok {
		if err := os.Chown(dest, uid, gid); err != nil && !errors.Is(err, syscall.EPERM) {
			return fmt.Errorf("chown: %w", err)
		}
	}
	mtime := time.Unix(e.MTime, int64(e.MTimeNanos))
	if err := os.Chtimes(dest, mtime, mtime); err != nil {
		return fmt.Errorf("chtimes: %w", err)
	}
	return nil
}

func (r *restorer) destPath(apathStr string) string {
	if apathStr == "/" {
		return r.destDir
	}
	return filepath.Join(r.destDir, filepath.FromSlash(apathStr))
}
