// Package index implements Conserve's per-band index: compressed, sorted,
// hunked JSON records mapping archive paths to block references and POSIX
// metadata. It follows the shape of go-git's plumbing/format/index (an
// ordered, encode/decode-verified entry set) and plumbing/format/objfile
// (a single self-describing compressed record), generalized to a
// compressed-then-hunked sequence of JSON arrays per spec.md section 4.E/F.
package index

import (
	"github.com/sourcefrog-labs/conserve/apath"
	"github.com/sourcefrog-labs/conserve/chash"
)

// Kind classifies an IndexEntry.
type Kind string

const (
	KindFile    Kind = "File"
	KindDir     Kind = "Dir"
	KindSymlink Kind = "Symlink"
)

// Owner names the user/group that own a File entry, stored as portable
// names rather than uid/gid per spec.md section 9.
type Owner struct {
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`
}

// Address is a reference to a byte range of a stored block: the substring
// [Start, Start+Len) of the block named by Hash.
type Address struct {
	Hash  chash.Hash `json:"hash"`
	Start uint64     `json:"start"`
	Len   uint64     `json:"len"`
}

// Entry is one archive path's metadata as of a band.
type Entry struct {
	Apath      string    `json:"apath"`
	Kind       Kind      `json:"kind"`
	MTime      int64     `json:"mtime,omitempty"`
	MTimeNanos uint32    `json:"mtime_nanos,omitempty"`
	UnixMode   uint32    `json:"unix_mode,omitempty"`
	User       string    `json:"user,omitempty"`
	Group      string    `json:"group,omitempty"`
	Addrs      []Address `json:"addrs,omitempty"`
	Target     string    `json:"target,omitempty"`
}

// OwnerOf returns e's owner as an Owner value.
func (e Entry) OwnerOf() Owner { return Owner{User: e.User, Group: e.Group} }

// Path parses e.Apath as an apath.Apath. Entries are only ever constructed
// or decoded from already-validated paths, so callers that know this can
// use MustPath.
func (e Entry) Path() (apath.Apath, error) {
	return apath.New(e.Apath)
}

// MustPath parses e.Apath and panics if invalid.
func (e Entry) MustPath() apath.Apath {
	return apath.MustNew(e.Apath)
}

// Size returns the file's total size, the sum of every address length.
// Zero for Dir and Symlink entries.
func (e Entry) Size() uint64 {
	var total uint64
	for _, a := range e.Addrs {
		total += a.Len
	}
	return total
}

// SameMetadata reports whether e and other describe the same file content
// and attributes under the equivalence relation spec.md section 4.J step 2
// defines for "Unchanged": same kind, size, mtime (seconds+nanos), owner,
// mode, and (for symlinks) target. It does not compare Addrs directly,
// since size equality combined with kind is what backup.Writer uses to
// decide whether re-reading content is necessary.
func (e Entry) SameMetadata(other Entry) bool {
	if e.Kind != other.Kind {
		return false
	}
	if e.MTime != other.MTime || e.MTimeNanos != other.MTimeNanos {
		return false
	}
	if e.UnixMode != other.UnixMode {
		return false
	}
	if e.User != other.User || e.Group != other.Group {
		return false
	}
	switch e.Kind {
	case KindFile:
		return e.Size() == other.Size()
	case KindSymlink:
		return e.Target == other.Target
	default:
		return true
	}
}
