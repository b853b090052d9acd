package crabedb

import (
	"sync"
	"sync/atomic"

	"github.com/gabrielmougard/crabedb/internal/codec"
	"github.com/gabrielmougard/crabedb/internal/fileset"
	"github.com/gabrielmougard/crabedb/internal/index"
	"github.com/gabrielmougard/crabedb/internal/logging"
	"github.com/gabrielmougard/crabedb/internal/logstore"
	"github.com/gabrielmougard/crabedb/internal/vfs"
)

// Engine is an open store. It is safe for concurrent use by multiple
// goroutines: a single reader/writer lock guards the index, log manager,
// and sequence counter, and a separate mutex serializes compactions (see
// spec.md §5).
type Engine struct {
	opts   Options
	logger logging.Logger

	mu  sync.RWMutex
	seq uint64

	fset *fileset.FileSet
	log  *logstore.LogStore
	idx  *index.Index

	compactMu sync.Mutex

	dropped atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// Open acquires the store's directory lock, replays its hint (or data)
// files to rebuild the index, and starts whatever background workers
// opts enables. Closing the returned Engine releases the lock.
func Open(path string, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.validate(); err != nil {
		return nil, err
	}
	logger := logging.OrDefault(o.Logger)

	fset, err := fileset.Open(vfs.Default(), path, o.Create, o.FileChunkQueueSize, logger)
	if err != nil {
		if err == fileset.ErrInvalidPath {
			return nil, newError(KindInvalidPath, err)
		}
		return nil, newError(KindIO, err)
	}

	ls := logstore.Open(fset, o.MaxFileSize, o.Sync == SyncAlways, logger)
	idx := index.New(logger)

	maxSeq, err := recoverIndex(fset, ls, idx, logger)
	if err != nil {
		_ = fset.Close()
		return nil, err
	}

	e := &Engine{
		opts:   o,
		logger: logger,
		seq:    maxSeq + 1,
		fset:   fset,
		log:    ls,
		idx:    idx,
		stopCh: make(chan struct{}),
	}

	e.startBackgroundWorkers()

	logger.Infof("%sopened store at %s", logging.NSEngine, path)
	return e, nil
}

// recoverIndex replays every known file's hints (rebuilding them from the
// data file first if they're absent or corrupt) into idx, in ascending
// file-id order, and returns the highest sequence number observed so the
// caller can resume the write-path counter from it.
func recoverIndex(fset *fileset.FileSet, ls *logstore.LogStore, idx *index.Index, logger logging.Logger) (uint64, error) {
	var maxSeq uint64
	for _, fileID := range fset.Files() {
		replay := func(ha logstore.HintAt) bool {
			idx.Replay(ha.Hint, fileID)
			if ha.Hint.Seq > maxSeq {
				maxSeq = ha.Hint.Seq
			}
			return true
		}

		valid, err := logstore.IterHints(fset, fileID, replay)
		if err != nil {
			return 0, newError(KindIO, err)
		}
		if valid {
			continue
		}

		logger.Warnf("%sfile %d has no valid hint file, rebuilding from data", logging.NSEngine, fileID)
		if err := logstore.RebuildHints(fset, logger, fileID, replay); err != nil {
			return 0, newError(KindIO, err)
		}
	}
	return maxSeq, nil
}

// Get returns the current value for key. ok is false when the key has no
// live entry (never set, or removed).
func (e *Engine) Get(key []byte) (value []byte, ok bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dropped.Load() {
		return nil, false, ErrDatabaseClosed
	}

	entry, found := e.idx.Get(key)
	if !found {
		return nil, false, nil
	}

	rec, err := e.log.ReadRecord(entry.FileID, int64(entry.Pos))
	if err != nil {
		if cerr, is := err.(*codec.ChecksumError); is {
			return nil, false, newChecksumError(cerr.Expected, cerr.Found)
		}
		return nil, false, newError(KindIO, err)
	}
	if rec.Deleted {
		// The index should never point at a tombstone; a concurrent
		// compaction race could in principle surface one transiently.
		e.logger.Warnf("%sindex pointed at a tombstone for a live key", logging.NSEngine)
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Set writes value for key, superseding any prior value.
func (e *Engine) Set(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dropped.Load() {
		return ErrDatabaseClosed
	}

	seq := e.seq
	rec := &codec.Record{Key: key, Value: value, Seq: seq}
	result, err := e.log.Append(rec)
	if err != nil {
		return wrapAppendErr(err)
	}
	e.seq++

	e.idx.Set(key, index.Entry{FileID: result.FileID, Pos: uint64(result.Pos), Seq: seq, Size: rec.Size()})
	return nil
}

// Remove deletes key. It is a no-op, not an error, if key has no live
// entry.
func (e *Engine) Remove(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dropped.Load() {
		return ErrDatabaseClosed
	}

	if !e.idx.Remove(key) {
		return nil
	}

	seq := e.seq
	rec := &codec.Record{Key: key, Seq: seq, Deleted: true}
	if _, err := e.log.Append(rec); err != nil {
		return wrapAppendErr(err)
	}
	e.seq++
	return nil
}

// Keys returns a snapshot of the current live key set.
func (e *Engine) Keys() ([][]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dropped.Load() {
		return nil, ErrDatabaseClosed
	}
	return e.idx.Keys(), nil
}

// Close stops background workers, waits for them to exit, and releases
// the directory lock. Following original_source's two-stage teardown
// (CrabeDB's Drop flips state and joins workers before Lsm's Drop releases
// the flock), the lock is released last.
func (e *Engine) Close() error {
	if !e.dropped.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stopCh)
	e.wg.Wait()

	// Block until any in-flight compaction has finished; a fresh one
	// cannot start now that dropped is set.
	e.compactMu.Lock()
	e.compactMu.Unlock() //nolint:staticcheck // intentional lock/unlock pair, see above

	e.mu.Lock()
	closeErr := e.log.Close()
	e.mu.Unlock()

	if err := e.fset.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	e.logger.Infof("%sclosed store at %s", logging.NSEngine, e.fset.Dir())
	return closeErr
}

func wrapAppendErr(err error) error {
	if err == codec.ErrInvalidKeySize {
		return newError(KindInvalidKeySize, err)
	}
	if err == codec.ErrInvalidValueSize {
		return newError(KindInvalidValueSize, err)
	}
	return newError(KindIO, err)
}
