package crabedb

import (
	"sort"

	"github.com/gabrielmougard/crabedb/internal/codec"
	"github.com/gabrielmougard/crabedb/internal/humanize"
	"github.com/gabrielmougard/crabedb/internal/logging"
	"github.com/gabrielmougard/crabedb/internal/logstore"
)

// Compact runs an on-demand compaction pass: idempotent, and serialized
// against any other compaction (manual or background) by compactMu. See
// spec.md §4.F for the two-pass trigger/inclusion algorithm this follows.
func (e *Engine) Compact() error {
	e.compactMu.Lock()
	defer e.compactMu.Unlock()

	if e.dropped.Load() {
		return ErrDatabaseClosed
	}

	selected, triggered := e.selectCompactionFiles()
	if !triggered {
		if len(selected) > 0 {
			e.logger.Infof("%scompaction of files %v aborted: no trigger fired", logging.NSCompact, selected)
		} else {
			e.logger.Infof("%sno files eligible for compaction", logging.NSCompact)
		}
		return nil
	}

	return e.compactFiles(selected)
}

// selectCompactionFiles reads a snapshot of the analyzer's per-file
// triples and applies the trigger and inclusion passes, excluding the
// active file (it is still being written to and can't be safely merged).
func (e *Engine) selectCompactionFiles() (files []uint32, triggered bool) {
	e.mu.RLock()
	analysis := e.idx.FileAnalysis()
	activeFileID, haveActive := e.log.ActiveFileID()
	e.mu.RUnlock()

	sort.Slice(analysis, func(i, j int) bool { return analysis[i].FileID < analysis[j].FileID })

	selected := make(map[uint32]bool)
	for _, a := range analysis {
		if haveActive && a.FileID == activeFileID {
			continue
		}
		if a.FragmentationRatio >= e.opts.FragmentationTrigger || a.DeadBytes >= e.opts.DeadBytesTrigger {
			if a.FragmentationRatio >= e.opts.FragmentationTrigger {
				e.logger.Infof("%sfile %d has fragmentation of %.1f%%, compaction will start",
					logging.NSCompact, a.FileID, a.FragmentationRatio*100)
			} else {
				e.logger.Infof("%sfile %d has %s of dead data, triggered compaction",
					logging.NSCompact, a.FileID, humanize.Bytes(a.DeadBytes))
			}
			triggered = true
			selected[a.FileID] = true
		}
	}
	if !triggered {
		return nil, false
	}

	for _, a := range analysis {
		if haveActive && a.FileID == activeFileID {
			continue
		}
		if selected[a.FileID] {
			continue
		}
		if a.FragmentationRatio >= e.opts.FragmentationThreshold || a.DeadBytes >= e.opts.DeadBytesThreshold {
			selected[a.FileID] = true
			continue
		}
		e.mu.RLock()
		size, err := e.fset.FileSize(a.FileID)
		e.mu.RUnlock()
		if err == nil && uint64(size) <= e.opts.SmallFileThreshold {
			selected[a.FileID] = true
		}
	}

	out := make([]uint32, 0, len(selected))
	for id := range selected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, true
}

// compactFiles rewrites the live contents of files into fresh output
// files and atomically swaps them in. On any error the old files are left
// intact; compaction is all-or-nothing at the swap boundary.
func (e *Engine) compactFiles(files []uint32) error {
	e.logger.Infof("%scompacting data files %v", logging.NSCompact, files)

	type pending struct {
		fileID uint32
		pos    int64
	}
	var inserts []pending
	tombstoneSeq := make(map[string]uint64)

	for _, fileID := range files {
		valid, err := logstore.IterHints(e.fset, fileID, func(ha logstore.HintAt) bool {
			key := string(ha.Hint.Key)

			e.mu.RLock()
			current, ok := e.idx.Get(ha.Hint.Key)
			e.mu.RUnlock()

			switch {
			case ha.Hint.Deleted:
				if !ok {
					if s, exists := tombstoneSeq[key]; !exists || ha.Hint.Seq > s {
						tombstoneSeq[key] = ha.Hint.Seq
					}
				}
			case ok && current.Seq == ha.Hint.Seq:
				inserts = append(inserts, pending{fileID: fileID, pos: int64(ha.Hint.LogPos)})
			}
			return true
		})
		if err != nil {
			return newError(KindIO, err)
		}
		if !valid {
			// Every file reaching compaction should already have a valid
			// hint file (recovery rebuilds it at open); treat an invalid
			// one as unexpected corruption rather than silently skipping it.
			return newError(KindIO, logstore.ErrInvalidFileID)
		}
	}

	wh := e.log.WriterHandle(e.opts.MaxFileSize)
	newFileSet := make(map[uint32]bool)

	for _, p := range inserts {
		rec, err := e.log.ReadRecord(p.fileID, p.pos)
		if err != nil {
			_ = wh.Close()
			return newError(KindIO, err)
		}
		result, err := wh.Append(rec)
		if err != nil {
			_ = wh.Close()
			return newError(KindIO, err)
		}
		newFileSet[result.FileID] = true
	}
	for key, seq := range tombstoneSeq {
		result, err := wh.Append(&codec.Record{Key: []byte(key), Seq: seq, Deleted: true})
		if err != nil {
			_ = wh.Close()
			return newError(KindIO, err)
		}
		newFileSet[result.FileID] = true
	}
	if err := wh.Close(); err != nil {
		return newError(KindIO, err)
	}

	newFiles := make([]uint32, 0, len(newFileSet))
	for id := range newFileSet {
		newFiles = append(newFiles, id)
	}
	sort.Slice(newFiles, func(i, j int) bool { return newFiles[i] < newFiles[j] })

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, fileID := range newFiles {
		_, err := logstore.IterHints(e.fset, fileID, func(ha logstore.HintAt) bool {
			e.idx.Replay(ha.Hint, fileID)
			return true
		})
		if err != nil {
			return newError(KindIO, err)
		}
	}
	e.idx.RemoveFiles(files)

	if err := e.fset.SwapFiles(files, newFiles); err != nil {
		return newError(KindIO, err)
	}

	e.logger.Infof("%sfinished compacting files %v into %v", logging.NSCompact, files, newFiles)
	return nil
}
