package archive

import (
	"encoding/json"
	"fmt"

	"github.com/sourcefrog-labs/conserve/transport"
)

// GCLock is a held GC_LOCK sentinel, serializing garbage collection against
// backup writers (spec.md section 4.L), the same way go-git's dotgit takes
// a ".lock" file before rewriting a ref.
type GCLock struct {
	tr transport.Transport
}

type gcLockDoc struct {
	PID       int   `json:"pid"`
	StartTime int64 `json:"start_time"`
}

// AcquireGCLock takes the archive's GC lock. It fails with ErrLockHeld if
// already held, unless breakLock is true, in which case an existing lock
// is forcibly removed first.
func (a *Archive) AcquireGCLock(pid int, startTime int64, breakLock bool) (*GCLock, error) {
	if breakLock {
		_ = a.tr.RemoveFile(gcLockRelpath)
	}
	doc := gcLockDoc{PID: pid, StartTime: startTime}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("archive: serialize gc lock: %w", err)
	}
	if err := a.tr.Write(gcLockRelpath, raw, transport.CreateNew); err != nil {
		if transport.IsAlreadyExists(err) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("archive: acquire gc lock: %w", err)
	}
	return &GCLock{tr: a.tr}, nil
}

// Release drops the GC lock.
func (l *GCLock) Release() error {
	if err := l.tr.RemoveFile(gcLockRelpath); err != nil {
		return fmt.Errorf("archive: release gc lock: %w", err)
	}
	return nil
}
