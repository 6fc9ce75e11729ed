package backup

import (
	"github.com/sourcefrog-labs/conserve/index"
	"github.com/sourcefrog-labs/conserve/stitch"
)

// basisCursor turns the stitched index's push-style iteration (EntryFunc
// callbacks) into a pull-style cursor, so BackupWriter can zip-merge the
// live source walk against the basis one entry at a time without reading
// the whole basis into memory. It is the same generator-over-a-channel
// shape Go code reaches for whenever a producer only knows how to call a
// callback but a consumer needs to drive the pace.
type basisCursor struct {
	entries chan index.Entry
	done    chan error
	next    *index.Entry
	err     error
}

// newBasisCursor starts stitching bandID in the background and primes the
// cursor with its first entry. When there is no basis band (the first
// backup), callers use emptyCursor instead.
func newBasisCursor(opener stitch.BandOpener, bandID int) *basisCursor {
	c := &basisCursor{
		entries: make(chan index.Entry, 64),
		done:    make(chan error, 1),
	}
	go func() {
		defer close(c.entries)
		c.done <- stitch.Stitch(opener, bandID, index.Options{}, func(e index.Entry) error {
			c.entries <- e
			return nil
		})
	}()
	c.advance()
	return c
}

// emptyCursor returns a cursor with no entries, used when there is no prior
// complete band to diff against.
func emptyCursor() *basisCursor {
	c := &basisCursor{entries: make(chan index.Entry), done: make(chan error, 1)}
	close(c.entries)
	c.done <- nil
	return c
}

func (c *basisCursor) advance() {
	e, ok := <-c.entries
	if !ok {
		c.next = nil
		if err := <-c.done; err != nil {
			c.err = err
		}
		return
	}
	c.next = &e
}

// Peek returns the next unread basis entry, or nil if exhausted (or a
// stitch error occurred, returned separately).
func (c *basisCursor) Peek() (*index.Entry, error) {
	return c.next, c.err
}

// Advance consumes the entry returned by the most recent Peek.
func (c *basisCursor) Advance() {
	c.advance()
}
