// Package local implements transport.Transport over a real directory tree,
// following the root-join style of go-git's utils/fs.OSClient. This is the
// boundary collaborator spec.md section 1 calls out as out of scope for the
// core engine; it exists here so the engine is testable end-to-end.
package local

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/sourcefrog-labs/conserve/transport"
)

// Local is a transport.Transport rooted at a real directory.
type Local struct {
	root string
}

// New returns a Local transport rooted at root. root need not exist yet.
func New(root string) *Local {
	return &Local{root: root}
}

func (l *Local) full(relpath string) string {
	return filepath.Join(l.root, filepath.FromSlash(relpath))
}

func wrapErr(op, relpath string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return &transport.Error{Op: op, Relpath: relpath, Err: fmt.Errorf("%w: %v", transport.ErrNotFound, err)}
	case os.IsExist(err):
		return &transport.Error{Op: op, Relpath: relpath, Err: fmt.Errorf("%w: %v", transport.ErrAlreadyExists, err)}
	case os.IsPermission(err):
		return &transport.Error{Op: op, Relpath: relpath, Err: fmt.Errorf("%w: %v", transport.ErrPermissionDenied, err)}
	default:
		return &transport.Error{Op: op, Relpath: relpath, Err: err}
	}
}

func (l *Local) Read(relpath string) ([]byte, error) {
	data, err := os.ReadFile(l.full(relpath))
	if err != nil {
		return nil, wrapErr("read", relpath, err)
	}
	return data, nil
}

func (l *Local) ReadAt(relpath string) (io.ReadCloser, error) {
	f, err := os.Open(l.full(relpath))
	if err != nil {
		return nil, wrapErr("read_at", relpath, err)
	}
	return f, nil
}

// Write stores data at relpath. CreateNew is published atomically via
// write-tmp-then-rename (renameio), satisfying the Transport atomicity
// contract: partial content is never visible under the final name.
func (l *Local) Write(relpath string, data []byte, mode transport.WriteMode) error {
	full := l.full(relpath)
	if mode == transport.CreateNew {
		if _, err := os.Lstat(full); err == nil {
			return &transport.Error{Op: "write", Relpath: relpath, Err: transport.ErrAlreadyExists}
		}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return wrapErr("write", relpath, err)
	}
	t, err := renameio.TempFile("", full)
	if err != nil {
		return wrapErr("write", relpath, err)
	}
	defer t.Cleanup()
	if _, err := t.Write(data); err != nil {
		return wrapErr("write", relpath, err)
	}
	if mode == transport.CreateNew {
		// Re-check immediately before the rename to narrow the race with a
		// concurrent writer of the same relpath; BlockDir treats the
		// resulting AlreadyExists as success (spec.md section 4.D).
		if _, err := os.Lstat(full); err == nil {
			return &transport.Error{Op: "write", Relpath: relpath, Err: transport.ErrAlreadyExists}
		}
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return wrapErr("write", relpath, err)
	}
	return nil
}

func (l *Local) ListDir(relpath string) ([]transport.DirEntry, error) {
	entries, err := os.ReadDir(l.full(relpath))
	if err != nil {
		return nil, wrapErr("list_dir", relpath, err)
	}
	out := make([]transport.DirEntry, 0, len(entries))
	for _, e := range entries {
		k := transport.FileKind
		if e.IsDir() {
			k = transport.DirKind
		}
		out = append(out, transport.DirEntry{Name: e.Name(), Kind: k})
	}
	return out, nil
}

func (l *Local) CreateDir(relpath string) error {
	if err := os.MkdirAll(l.full(relpath), 0o755); err != nil {
		return wrapErr("create_dir", relpath, err)
	}
	return nil
}

func (l *Local) RemoveFile(relpath string) error {
	if err := os.Remove(l.full(relpath)); err != nil {
		return wrapErr("remove_file", relpath, err)
	}
	return nil
}

func (l *Local) RemoveDirAll(relpath string) error {
	if err := os.RemoveAll(l.full(relpath)); err != nil {
		return wrapErr("remove_dir_all", relpath, err)
	}
	return nil
}

func (l *Local) Metadata(relpath string) (transport.Metadata, error) {
	info, err := os.Stat(l.full(relpath))
	if err != nil {
		return transport.Metadata{}, wrapErr("metadata", relpath, err)
	}
	k := transport.FileKind
	if info.IsDir() {
		k = transport.DirKind
	}
	return transport.Metadata{Len: info.Size(), Kind: k}, nil
}

func (l *Local) Sub(relpath string) transport.Transport {
	return &Local{root: l.full(relpath)}
}
