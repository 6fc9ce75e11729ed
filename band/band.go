// Package band implements Conserve's band lifecycle: a single backup
// version's head/tail markers and format-flag gating, stored at
// "bNNNN/BANDHEAD" and "bNNNN/BANDTAIL". This mirrors go-git's dotgit
// read-modify-write-via-rename pattern for small metadata files (refs,
// shallow) generalized to a two-phase head-then-tail lifecycle, per
// spec.md section 4.G.
package band

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sourcefrog-labs/conserve/index"
	"github.com/sourcefrog-labs/conserve/transport"
)

const (
	headRelpath = "BANDHEAD"
	tailRelpath = "BANDTAIL"

	// FormatVersion is written into every new band's head.
	FormatVersion = "0.6.3"
)

// ErrUnsupportedFormatFlags is returned by Open when a band's head lists a
// format flag this reader doesn't recognize (spec.md section 6.3).
var ErrUnsupportedFormatFlags = errors.New("band: unsupported format flags")

// ErrAlreadyClosed is returned by Close when a band's tail already exists;
// closing twice is a caller bug (spec.md section 4.G).
var ErrAlreadyClosed = errors.New("band: already closed")

// SupportedFlags is the set of format flags this implementation understands.
// The default flag set for newly written bands is empty (spec.md section
// 6.3); this set exists so a future flag can be added without breaking
// existing archives.
var SupportedFlags = map[string]struct{}{}

// Head is the BANDHEAD document.
type Head struct {
	StartTime         int64    `json:"start_time"`
	BandFormatVersion string   `json:"band_format_version"`
	FormatFlags       []string `json:"format_flags"`
}

// Tail is the BANDTAIL document.
type Tail struct {
	EndTime int64 `json:"end_time"`
	Stats   Stats `json:"stats"`
}

// Stats summarizes one completed backup, supplementing spec.md's reference
// to "final statistics" with the concrete counters SPEC_FULL.md section 3
// names.
type Stats struct {
	FilesAdded         int64 `json:"files_added"`
	FilesChanged       int64 `json:"files_changed"`
	FilesUnchanged     int64 `json:"files_unchanged"`
	FilesDeleted       int64 `json:"files_deleted"`
	EmptyFiles         int64 `json:"empty_files"`
	BlocksWritten      int64 `json:"blocks_written"`
	DeduplicatedBlocks int64 `json:"deduplicated_blocks"`
	Errors             int64 `json:"errors"`
}

// Band is one backup version: its own transport root (the "bNNNN"
// directory), plus the parsed head and (if present) tail.
type Band struct {
	ID   int
	tr   transport.Transport
	Head Head
	Tail *Tail // nil until closed
}

// IDName formats a band id as "bNNNN".
func IDName(id int) string {
	return fmt.Sprintf("b%04d", id)
}

// Create starts a new band with id under archiveRoot, writing its head.
// Callers (archive.Archive) are responsible for choosing id as
// max_existing+1 (or 0) per spec.md section 4.G.
func Create(archiveRoot transport.Transport, id int, startTime int64, flags []string) (*Band, error) {
	name := IDName(id)
	if err := archiveRoot.CreateDir(name); err != nil {
		return nil, fmt.Errorf("band: create dir %s: %w", name, err)
	}
	tr := archiveRoot.Sub(name)
	head := Head{StartTime: startTime, BandFormatVersion: FormatVersion, FormatFlags: flags}
	raw, err := json.Marshal(head)
	if err != nil {
		return nil, fmt.Errorf("band: serialize head: %w", err)
	}
	if err := tr.Write(headRelpath, raw, transport.CreateNew); err != nil {
		return nil, fmt.Errorf("band: write head: %w", err)
	}
	return &Band{ID: id, tr: tr, Head: head}, nil
}

// Open reads an existing band's head and, if present, tail.
func Open(archiveRoot transport.Transport, id int) (*Band, error) {
	tr := archiveRoot.Sub(IDName(id))
	raw, err := tr.Read(headRelpath)
	if err != nil {
		return nil, fmt.Errorf("band: read head: %w", err)
	}
	var head Head
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("band: parse head: %w", err)
	}
	for _, f := range head.FormatFlags {
		if _, ok := SupportedFlags[f]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormatFlags, f)
		}
	}

	b := &Band{ID: id, tr: tr, Head: head}
	tailRaw, err := tr.Read(tailRelpath)
	switch {
	case err == nil:
		var tail Tail
		if err := json.Unmarshal(tailRaw, &tail); err != nil {
			return nil, fmt.Errorf("band: parse tail: %w", err)
		}
		b.Tail = &tail
	case transport.IsNotFound(err):
		// Incomplete band; leave Tail nil.
	default:
		return nil, fmt.Errorf("band: read tail: %w", err)
	}
	return b, nil
}

// IsClosed reports whether the band has a tail.
func (b *Band) IsClosed() bool { return b.Tail != nil }

// Close writes the band's tail, completing it.
func (b *Band) Close(endTime int64, stats Stats) error {
	if b.Tail != nil {
		return ErrAlreadyClosed
	}
	tail := Tail{EndTime: endTime, Stats: stats}
	raw, err := json.Marshal(tail)
	if err != nil {
		return fmt.Errorf("band: serialize tail: %w", err)
	}
	if err := b.tr.Write(tailRelpath, raw, transport.CreateNew); err != nil {
		return fmt.Errorf("band: write tail: %w", err)
	}
	b.Tail = &tail
	return nil
}

// Transport returns the band's own transport root, for IndexWriter/Reader
// and the block-reference walk to build "i/..." relpaths against.
func (b *Band) Transport() transport.Transport { return b.tr }

// IndexWriter returns a fresh index.Writer scoped to this band.
func (b *Band) IndexWriter() *index.Writer { return index.NewWriter(b.tr) }

// IndexReader returns an index.Reader scoped to this band.
func (b *Band) IndexReader() *index.Reader { return index.NewReader(b.tr) }
