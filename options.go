package crabedb

import (
	"time"

	"github.com/gabrielmougard/crabedb/internal/logging"
)

// SyncMode controls when the log manager fsyncs the active data file.
// It is a closed enum, following original_source's SyncOptions.
type SyncMode int

const (
	// SyncNever never issues an explicit fsync; durability is whatever
	// the OS page cache and file-close flush provide.
	SyncNever SyncMode = iota
	// SyncAlways fsyncs the active file after every append.
	SyncAlways
	// SyncFrequency fsyncs on a timer; see Options.SyncInterval.
	SyncFrequency
)

func (m SyncMode) String() string {
	switch m {
	case SyncNever:
		return "Never"
	case SyncAlways:
		return "Always"
	case SyncFrequency:
		return "Frequency"
	default:
		return "Unknown"
	}
}

// Options configures an Engine. The zero value is not ready to use; start
// from DefaultOptions and override individual fields.
type Options struct {
	// Create creates the store directory if it doesn't exist. If false
	// and the directory is missing, Open fails with KindInvalidPath.
	// Default: true
	Create bool

	// Sync selects the durability policy: SyncAlways, SyncNever, or
	// SyncFrequency (paired with SyncInterval).
	// Default: SyncFrequency
	Sync SyncMode

	// SyncInterval is the period between background fsyncs when Sync is
	// SyncFrequency. Ignored otherwise.
	// Default: 2s
	SyncInterval time.Duration

	// MaxFileSize is the byte threshold at which the active data file is
	// rotated: a write that would cross it rotates first.
	// Default: 2 GiB
	MaxFileSize int64

	// FileChunkQueueSize bounds the file-descriptor cache used for
	// random-access reads against immutable data files.
	// Default: 2048
	FileChunkQueueSize int

	// Compaction enables the background compaction checker.
	// Default: true
	Compaction bool

	// CompactionCheckFrequency is the interval between compaction checks.
	// Default: 1h
	CompactionCheckFrequency time.Duration

	// CompactionWindowStart and CompactionWindowEnd bound the local hours
	// (0-23, inclusive) during which background compaction is allowed to
	// run. Start must not exceed End; Open rejects an inverted window
	// with ErrInvalidOptions rather than guessing at wraparound semantics
	// (see DESIGN.md's Open Question decision).
	// Default: 0, 23 (always allowed)
	CompactionWindowStart int
	CompactionWindowEnd   int

	// FragmentationTrigger is the per-file dead/total ratio that, if met
	// by any file, causes a compaction pass to run at all.
	// Default: 0.6
	FragmentationTrigger float64

	// FragmentationThreshold is the lower ratio that, once a pass is
	// already triggered, pulls a file into the pass alongside the
	// trigger file(s).
	// Default: 0.4
	FragmentationThreshold float64

	// DeadBytesTrigger is the per-file dead-byte count that, if met by
	// any file, causes a compaction pass to run at all.
	// Default: 512 MiB
	DeadBytesTrigger uint64

	// DeadBytesThreshold is the lower dead-byte count that, once a pass
	// is already triggered, pulls a file into the pass.
	// Default: 128 MiB
	DeadBytesThreshold uint64

	// SmallFileThreshold: a file at or under this size is pulled into an
	// already-triggered pass regardless of its fragmentation or dead
	// bytes, to amortize the fixed cost of a compaction pass.
	// Default: 10 MiB
	SmallFileThreshold uint64

	// Logger receives the engine's log output. If nil, a default
	// WARN-level logger writing to stderr is used.
	Logger logging.Logger
}

// DefaultOptions returns the option set from spec.md §6 / original_source's
// Default for StorageOptions.
func DefaultOptions() *Options {
	return &Options{
		Create:                   true,
		Sync:                     SyncFrequency,
		SyncInterval:             2 * time.Second,
		MaxFileSize:              2 * 1024 * 1024 * 1024, // 2 GiB
		FileChunkQueueSize:       2048,
		Compaction:               true,
		CompactionCheckFrequency: time.Hour,
		CompactionWindowStart:    0,
		CompactionWindowEnd:      23,
		FragmentationTrigger:     0.6,
		FragmentationThreshold:   0.4,
		DeadBytesTrigger:         512 * 1024 * 1024,
		DeadBytesThreshold:       128 * 1024 * 1024,
		SmallFileThreshold:       10 * 1024 * 1024,
		Logger:                   nil, // resolved to a default logger by Open
	}
}

// validate rejects option combinations Open cannot safely act on.
func (o *Options) validate() error {
	if o.CompactionWindowStart > o.CompactionWindowEnd {
		return ErrInvalidOptions
	}
	if o.CompactionWindowStart < 0 || o.CompactionWindowEnd > 23 {
		return ErrInvalidOptions
	}
	return nil
}
