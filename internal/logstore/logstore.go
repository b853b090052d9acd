// Package logstore is the log manager (spec component 4.D): it appends
// records to the active data file, rotates files at a size threshold,
// writes the matching compaction hint alongside every record, and provides
// the forward scans recovery and compaction need. It owns no index state of
// its own — the index (internal/index) is built by replaying what this
// package reads back.
package logstore

import (
	"errors"
	"io"
	"sync"

	"github.com/gabrielmougard/crabedb/internal/codec"
	"github.com/gabrielmougard/crabedb/internal/fileset"
	"github.com/gabrielmougard/crabedb/internal/logging"
	"github.com/gabrielmougard/crabedb/internal/testutil"
	"github.com/gabrielmougard/crabedb/internal/vfs"
)

// ErrInvalidFileID is returned when a read references a file id the file
// set doesn't know about.
var ErrInvalidFileID = errors.New("logstore: invalid file id")

// LogStore appends records to an active file, rotating on size, and
// answers random-access reads by (file_id, pos). A LogStore has no active
// file until its first Append: restarting a process always starts a fresh
// active file rather than resuming the last one a prior process wrote.
type LogStore struct {
	fset        *fileset.FileSet
	logger      logging.Logger
	maxFileSize int64
	syncAlways  bool

	mu           sync.Mutex
	haveActive   bool
	activeFileID uint32
	dataWriter   vfs.WritableFile
	hintWriter   *fileset.HintWriter
	offset       int64
}

// Open returns a LogStore backed by fset. maxFileSize bounds the active
// file before rotation; syncAlways fsyncs the active file after every
// append (spec.md's sync=Always policy — Frequency and Never are handled
// by the engine's background sync loop calling Sync periodically or never).
func Open(fset *fileset.FileSet, maxFileSize int64, syncAlways bool, logger logging.Logger) *LogStore {
	return &LogStore{
		fset:        fset,
		logger:      logging.OrDefault(logger),
		maxFileSize: maxFileSize,
		syncAlways:  syncAlways,
	}
}

// Result is the location an appended record was written at.
type Result struct {
	FileID uint32
	Pos    int64
}

// Append writes rec to the active file, rotating first if it would exceed
// maxFileSize, and writes the matching hint record to the sibling hint
// file in the same call.
func (ls *LogStore) Append(rec *codec.Record) (Result, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	size := int64(rec.Size())
	if !ls.haveActive || ls.offset+size > ls.maxFileSize {
		if err := ls.rotateLocked(); err != nil {
			return Result{}, err
		}
	}

	testutil.MaybeKill(testutil.KPLogstoreAppend0)

	pos := ls.offset
	if err := codec.EncodeRecord(ls.dataWriter, rec); err != nil {
		return Result{}, err
	}
	ls.offset += size

	testutil.MaybeKill(testutil.KPLogstoreAppend1)

	hint := &codec.Hint{
		Key:       rec.Key,
		LogPos:    uint64(pos),
		ValueSize: uint32(len(rec.Value)),
		Seq:       rec.Seq,
		Deleted:   rec.Deleted,
	}
	if err := codec.EncodeHint(ls.hintWriter, hint); err != nil {
		return Result{}, err
	}

	testutil.MaybeKill(testutil.KPLogstoreAppend2)

	if ls.syncAlways {
		if err := ls.syncLocked(); err != nil {
			return Result{}, err
		}
	}

	return Result{FileID: ls.activeFileID, Pos: pos}, nil
}

// ActiveFileID returns the file id currently accepting appends, and
// whether one has been allocated yet. Compaction uses this to exclude the
// active file from the set of files it may rewrite.
func (ls *LogStore) ActiveFileID() (uint32, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.activeFileID, ls.haveActive
}

// Sync fsyncs the currently active file. A no-op if nothing has been
// appended yet.
func (ls *LogStore) Sync() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if !ls.haveActive {
		return nil
	}
	return ls.syncLocked()
}

func (ls *LogStore) syncLocked() error {
	testutil.MaybeKill(testutil.KPLogstoreSync0)
	err := ls.dataWriter.Sync()
	testutil.MaybeKill(testutil.KPLogstoreSync1)
	return err
}

// rotateLocked closes the current writer pair, if any, and opens a fresh
// one at a newly allocated file id. Caller holds ls.mu.
func (ls *LogStore) rotateLocked() error {
	testutil.MaybeKill(testutil.KPLogstoreRotate0)

	if ls.haveActive {
		if err := ls.hintWriter.Close(); err != nil {
			return err
		}
		if err := ls.dataWriter.Close(); err != nil {
			return err
		}
		ls.fset.AddFile(ls.activeFileID)
		ls.logger.Infof("%srotated out of file %d", logging.NSLogstore, ls.activeFileID)
	}

	testutil.MaybeKill(testutil.KPLogstoreRotate1)

	id := ls.fset.NextFileID()
	dw, err := ls.fset.OpenDataWriter(id)
	if err != nil {
		return err
	}
	hw, err := ls.fset.OpenHintWriter(id)
	if err != nil {
		_ = dw.Close()
		return err
	}

	testutil.MaybeKill(testutil.KPLogstoreRotate2)

	ls.activeFileID = id
	ls.dataWriter = dw
	ls.hintWriter = hw
	ls.offset = 0
	ls.haveActive = true
	ls.logger.Infof("%srotated to file %d", logging.NSLogstore, id)
	return nil
}

// Close closes the active writer pair, if any.
func (ls *LogStore) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if !ls.haveActive {
		return nil
	}
	hErr := ls.hintWriter.Close()
	dErr := ls.dataWriter.Close()
	if hErr != nil {
		return hErr
	}
	return dErr
}

// ReadRecord reads and validates the record at (fileID, pos).
func (ls *LogStore) ReadRecord(fileID uint32, pos int64) (*codec.Record, error) {
	r, err := ls.fset.OpenDataReader(fileID)
	if err != nil {
		return nil, ErrInvalidFileID
	}
	defer r.Release()
	return codec.DecodeRecord(r.Reader(pos))
}

// RecordAt pairs a scanned record with the offset it was read from.
type RecordAt struct {
	Pos    int64
	Record *codec.Record
	Err    error
}

// IterRecords lazily scans fileID's data file from the start, stopping at
// a clean EOF. A torn trailing record (a short read or a checksum failure)
// is reported once as the final item with a non-nil Err and then the scan
// stops, which is what recovery's "treat a bad tail as end-of-file" policy
// needs: the caller inspects the last item's Err to tell a clean stop from
// a torn one.
func IterRecords(fset *fileset.FileSet, fileID uint32, yield func(RecordAt) bool) error {
	r, err := fset.OpenDataReader(fileID)
	if err != nil {
		return ErrInvalidFileID
	}
	defer r.Release()

	var pos int64
	src := r.Reader(0)
	for {
		rec, err := codec.DecodeRecord(src)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			yield(RecordAt{Pos: pos, Err: err})
			return nil
		}
		size := int64(rec.Size())
		if !yield(RecordAt{Pos: pos, Record: rec}) {
			return nil
		}
		pos += size
	}
}

// HintAt pairs a scanned hint with the offset its log record lives at.
type HintAt struct {
	Pos  int64
	Hint *codec.Hint
}

// IterHints lazily scans fileID's hint file, iff its trailer checksum
// validates. valid is false when the hint file is absent or corrupt, in
// which case the caller must call RebuildHints instead.
func IterHints(fset *fileset.FileSet, fileID uint32, yield func(HintAt) bool) (valid bool, err error) {
	r, release, ok, err := fset.OpenHintReader(fileID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer release()

	var pos int64
	for {
		h, err := codec.DecodeHint(r)
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return true, err
		}
		if !yield(HintAt{Pos: pos, Hint: h}) {
			return true, nil
		}
		pos += int64(h.LogSize())
	}
}

// RebuildHints produces the same stream as IterHints but by scanning the
// data file and re-writing the hint file as a side effect. The hint file
// is fully (re)written even if yield stops consuming early, mirroring the
// original implementation's drain-on-teardown iterator: the rebuild runs
// to the end of the data file (or to a torn tail or a hint write error)
// regardless of what the caller wants to see, and only the callback's
// continuation controls what is yielded.
func RebuildHints(fset *fileset.FileSet, logger logging.Logger, fileID uint32, yield func(HintAt) bool) error {
	logger = logging.OrDefault(logger)
	logger.Infof("%srebuilding hints for file %d", logging.NSLogstore, fileID)

	hw, err := fset.OpenHintWriter(fileID)
	if err != nil {
		return err
	}

	var rebuildErr error
	stop := false
	scanErr := IterRecords(fset, fileID, func(ra RecordAt) bool {
		if ra.Err != nil {
			// Torn tail: stop rebuilding past this point, same as a normal scan would.
			return false
		}
		h := &codec.Hint{
			Key:       ra.Record.Key,
			LogPos:    uint64(ra.Pos),
			ValueSize: uint32(len(ra.Record.Value)),
			Seq:       ra.Record.Seq,
			Deleted:   ra.Record.Deleted,
		}
		if err := codec.EncodeHint(hw, h); err != nil {
			rebuildErr = err
			return false
		}
		if !stop {
			stop = !yield(HintAt{Pos: ra.Pos, Hint: h})
		}
		return true
	})

	closeErr := hw.Close()
	if scanErr != nil {
		return scanErr
	}
	if rebuildErr != nil {
		return rebuildErr
	}
	return closeErr
}

// WriterHandle is an independent appender sharing fset's file-id counter,
// used by the compactor to emit output files without contending with the
// foreground writer's active-file state.
type WriterHandle struct {
	fset        *fileset.FileSet
	maxFileSize int64

	haveActive   bool
	activeFileID uint32
	dataWriter   vfs.WritableFile
	hintWriter   *fileset.HintWriter
	offset       int64
}

// WriterHandle returns a new independent appender.
func (ls *LogStore) WriterHandle(maxFileSize int64) *WriterHandle {
	return &WriterHandle{fset: ls.fset, maxFileSize: maxFileSize}
}

// Append writes rec to wh's own active file, rotating as needed. Behaves
// like LogStore.Append but against an independent file-id sequence
// position, used by the compactor so its output files don't collide with
// concurrently appended foreground files.
func (wh *WriterHandle) Append(rec *codec.Record) (Result, error) {
	size := int64(rec.Size())
	if !wh.haveActive || wh.offset+size > wh.maxFileSize {
		if err := wh.rotate(); err != nil {
			return Result{}, err
		}
	}

	pos := wh.offset
	if err := codec.EncodeRecord(wh.dataWriter, rec); err != nil {
		return Result{}, err
	}
	wh.offset += size

	hint := &codec.Hint{
		Key:       rec.Key,
		LogPos:    uint64(pos),
		ValueSize: uint32(len(rec.Value)),
		Seq:       rec.Seq,
		Deleted:   rec.Deleted,
	}
	if err := codec.EncodeHint(wh.hintWriter, hint); err != nil {
		return Result{}, err
	}

	return Result{FileID: wh.activeFileID, Pos: pos}, nil
}

func (wh *WriterHandle) rotate() error {
	if wh.haveActive {
		if err := wh.hintWriter.Close(); err != nil {
			return err
		}
		if err := wh.dataWriter.Close(); err != nil {
			return err
		}
		wh.fset.AddFile(wh.activeFileID)
	}

	id := wh.fset.NextFileID()
	dw, err := wh.fset.OpenDataWriter(id)
	if err != nil {
		return err
	}
	hw, err := wh.fset.OpenHintWriter(id)
	if err != nil {
		_ = dw.Close()
		return err
	}

	wh.activeFileID = id
	wh.dataWriter = dw
	wh.hintWriter = hw
	wh.offset = 0
	wh.haveActive = true
	return nil
}

// FileID returns the file id wh is currently appending to, and whether it
// has written anything yet.
func (wh *WriterHandle) FileID() (uint32, bool) {
	return wh.activeFileID, wh.haveActive
}

// Close closes wh's active writer pair, if any.
func (wh *WriterHandle) Close() error {
	if !wh.haveActive {
		return nil
	}
	hErr := wh.hintWriter.Close()
	dErr := wh.dataWriter.Close()
	if hErr != nil {
		return hErr
	}
	return dErr
}
