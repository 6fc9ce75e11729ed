package backup

import "github.com/sourcefrog-labs/conserve/apath"

// Default block-sizing thresholds (spec.md section 4.J step 3). They are
// Options fields rather than constants so a caller can tune them per
// archive, per the open-question decision recorded for this package.
const (
	DefaultCombineThreshold = 100 * 1024  // ~100 KiB
	DefaultMaxBlockBytes    = 1 << 20     // 1 MiB
)

// Options configures one BackupWriter run.
type Options struct {
	// CombineThreshold is the largest file size eligible for combining
	// into a shared block with other small files. Zero means
	// DefaultCombineThreshold.
	CombineThreshold uint64
	// MaxBlockBytes bounds both the combining buffer and the chunk size
	// used to split large files. Zero means DefaultMaxBlockBytes.
	MaxBlockBytes uint64
	// Exclude filters source paths out of the backup entirely.
	Exclude apath.Excluder
}

func (o Options) withDefaults() Options {
	if o.CombineThreshold == 0 {
		o.CombineThreshold = DefaultCombineThreshold
	}
	if o.MaxBlockBytes == 0 {
		o.MaxBlockBytes = DefaultMaxBlockBytes
	}
	return o
}
