// Package transport defines Conserve's abstract file namespace boundary:
// the capability set every storage component (BlockDir, IndexHunks, Band,
// Archive) uses to read, write, list and remove files, without any
// component depending on a concrete filesystem. It follows the shape of
// go-git's pre-billy "utils/fs" Filesystem interface, narrowed to the
// coarse, seek-free operations spec.md section 4.C requires so that a
// future object-store implementation never needs to emulate POSIX.
package transport

import (
	"errors"
	"io"
)

// WriteMode selects how Write publishes a file.
type WriteMode int

const (
	// CreateNew atomically publishes a new file; it fails if relpath
	// already exists.
	CreateNew WriteMode = iota
	// Overwrite replaces relpath's content, creating it if absent.
	Overwrite
)

// ErrNotFound is returned (wrapped) when relpath does not exist.
var ErrNotFound = errors.New("transport: not found")

// ErrAlreadyExists is returned (wrapped) by CreateNew writes when relpath
// already exists.
var ErrAlreadyExists = errors.New("transport: already exists")

// ErrPermissionDenied is returned (wrapped) on access-control failures.
var ErrPermissionDenied = errors.New("transport: permission denied")

// Error wraps a transport failure with the operation and path that failed.
type Error struct {
	Op      string
	Relpath string
	Err     error
}

func (e *Error) Error() string {
	return "transport: " + e.Op + " " + e.Relpath + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err indicates a missing file or directory.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err indicates relpath already existed.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// Kind classifies a directory entry.
type Kind int

const (
	FileKind Kind = iota
	DirKind
)

// DirEntry is one entry returned by ListDir.
type DirEntry struct {
	Name string
	Kind Kind
}

// Metadata describes a single file.
type Metadata struct {
	Len  int64
	Kind Kind
}

// Transport is the capability set every storage component depends on.
// Implementations must make CreateNew atomic: partial content must never be
// observable under the final relpath (spec.md section 4.C).
type Transport interface {
	// Read returns the full content of relpath.
	Read(relpath string) ([]byte, error)
	// ReadAt opens relpath as a sequential stream without loading it fully.
	ReadAt(relpath string) (io.ReadCloser, error)
	// Write stores bytes at relpath per mode.
	Write(relpath string, data []byte, mode WriteMode) error
	// ListDir lists the immediate children of relpath.
	ListDir(relpath string) ([]DirEntry, error)
	// CreateDir creates relpath and any missing parents; it is idempotent.
	CreateDir(relpath string) error
	// RemoveFile removes a single file.
	RemoveFile(relpath string) error
	// RemoveDirAll removes relpath and everything under it.
	RemoveDirAll(relpath string) error
	// Metadata returns relpath's size and kind.
	Metadata(relpath string) (Metadata, error)
	// Sub returns a new Transport rooted at relpath.
	Sub(relpath string) Transport
}
