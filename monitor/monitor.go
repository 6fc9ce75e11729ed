// Package monitor defines the capability through which the core reports
// progress, counters and non-fatal problems to a front-end, following
// spec.md's "injected through a Monitor capability" boundary (section 1)
// and go-git's utils/trace: a minimal, injectable observability seam rather
// than a fixed logging framework baked into every package.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Counter identifies one of the operation counters a pipeline maintains.
// Names follow original_source/src/counters.rs and src/stats.rs, which
// spec.md references ("Counters updated via Monitor") without enumerating.
type Counter string

const (
	CounterBlocksWritten       Counter = "blocks_written"
	CounterDeduplicatedBlocks  Counter = "deduplicated_blocks"
	CounterEmptyFiles          Counter = "empty_files"
	CounterFilesUnchanged      Counter = "files_unchanged"
	CounterFilesChanged        Counter = "files_changed"
	CounterFilesAdded          Counter = "files_added"
	CounterFilesDeleted        Counter = "files_deleted"
	CounterErrors              Counter = "errors"
	CounterIndexHunksWritten   Counter = "index_hunks_written"
	CounterBlocksDeleted       Counter = "blocks_deleted"
	CounterBlocksRetained      Counter = "blocks_retained"
)

// ProblemKind classifies a non-fatal problem surfaced during validate or
// restore, per the taxonomy in spec.md section 7.
type ProblemKind string

const (
	ProblemBlockMissing  ProblemKind = "block_missing"
	ProblemBlockCorrupt  ProblemKind = "block_corrupt"
	ProblemIndexCorrupt  ProblemKind = "index_corrupt"
	ProblemBandUnreadable ProblemKind = "band_unreadable"
)

// Problem is one reported non-fatal defect.
type Problem struct {
	Kind    ProblemKind
	Detail  string
	BandID  string
	Hash    string
}

// Monitor is the capability injected into every pipeline. A nil *Monitor is
// not valid; use New() for a usable no-front-end default.
type Monitor struct {
	logger   *slog.Logger
	mu       sync.Mutex
	counters map[Counter]*atomic.Int64
	problems []Problem
}

// New returns a Monitor that counts silently and logs through logger. A nil
// logger falls back to slog.Default().
func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{logger: logger, counters: make(map[Counter]*atomic.Int64)}
	return m
}

func (m *Monitor) counter(c Counter) *atomic.Int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.counters[c]; ok {
		return v
	}
	// gc and validate call Inc concurrently across bands, so the
	// lookup-or-create has to be locked even though the increment itself
	// is atomic.
	v := &atomic.Int64{}
	m.counters[c] = v
	return v
}

// Inc increments counter c by delta.
func (m *Monitor) Inc(c Counter, delta int64) {
	m.counter(c).Add(delta)
}

// Count returns the current value of counter c.
func (m *Monitor) Count(c Counter) int64 {
	return m.counter(c).Load()
}

// Problem records a non-fatal problem and logs it at warn level. Safe to
// call from multiple goroutines, since validate checks bands concurrently.
func (m *Monitor) Problem(p Problem) {
	m.mu.Lock()
	m.problems = append(m.problems, p)
	m.mu.Unlock()
	m.logger.Warn("conserve problem", "kind", p.Kind, "detail", p.Detail, "band", p.BandID, "hash", p.Hash)
}

// Problems returns every problem recorded so far.
func (m *Monitor) Problems() []Problem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Problem(nil), m.problems...)
}

// Logf logs an informational message, e.g. per-file backup/restore errors
// that are recorded but do not abort the pipeline (spec.md section 7).
func (m *Monitor) Logf(format string, args ...any) {
	m.logger.Info(fmt.Sprintf(format, args...))
}
