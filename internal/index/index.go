// Package index is the in-memory index and compaction analyzer (spec
// component 4.E): a key → location map plus, per file, the live/dead
// bookkeeping compaction uses to decide what to rewrite.
package index

import (
	"sync"

	"github.com/gabrielmougard/crabedb/internal/codec"
	"github.com/gabrielmougard/crabedb/internal/logging"
)

// Entry is where a key currently lives.
type Entry struct {
	FileID uint32
	Pos    uint64
	Seq    uint64
	Size   uint64
}

// fileStats accumulates, for one file, how many records it has ever held
// (the fragmentation denominator, fixed at "first sighting" per record)
// and how many of those are now dead.
type fileStats struct {
	entries     uint64
	deadEntries uint64
	deadBytes   uint64
}

// FileAnalysis reports one file's live/dead standing.
type FileAnalysis struct {
	FileID             uint32
	FragmentationRatio float64
	DeadBytes          uint64
}

// Index is the primary key → Entry map plus per-file compaction stats.
// Every method takes the Index's own reader/writer mutex, so it is safe
// for concurrent use; the engine additionally calls it under its own lock.
type Index struct {
	mu     sync.RWMutex
	byKey  map[string]Entry
	byFile map[uint32]*fileStats
	logger logging.Logger
}

// New returns an empty Index.
func New(logger logging.Logger) *Index {
	return &Index{
		byKey:  make(map[string]Entry),
		byFile: make(map[uint32]*fileStats),
		logger: logging.OrDefault(logger),
	}
}

func (idx *Index) statsLocked(fileID uint32) *fileStats {
	s, ok := idx.byFile[fileID]
	if !ok {
		s = &fileStats{}
		idx.byFile[fileID] = s
	}
	return s
}

func (idx *Index) addLocked(entry Entry) {
	idx.statsLocked(entry.FileID).entries++
}

func (idx *Index) chargeDeadLocked(entry Entry) {
	s, ok := idx.byFile[entry.FileID]
	if !ok {
		idx.logger.Warnf("%stried to charge dead bytes against unknown file %d", logging.NSIndex, entry.FileID)
		return
	}
	s.deadEntries++
	s.deadBytes += entry.Size
}

// Set installs entry for key, charging any displaced entry as dead on its
// owning file and crediting the new one as live on its own file.
func (idx *Index) Set(key []byte, entry Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.addLocked(entry)
	old, existed := idx.byKey[string(key)]
	idx.byKey[string(key)] = entry
	if existed {
		idx.chargeDeadLocked(old)
	}
}

// Get returns the entry for key, if present.
func (idx *Index) Get(key []byte) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byKey[string(key)]
	return e, ok
}

// Remove drops key from the live map, if present, charging its old entry
// as dead. Reports whether the key was present.
func (idx *Index) Remove(key []byte) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old, ok := idx.byKey[string(key)]
	if !ok {
		return false
	}
	delete(idx.byKey, string(key))
	idx.chargeDeadLocked(old)
	return true
}

// Keys returns a snapshot of the current key set.
func (idx *Index) Keys() [][]byte {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([][]byte, 0, len(idx.byKey))
	for k := range idx.byKey {
		out = append(out, []byte(k))
	}
	return out
}

// Len returns the number of live keys.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byKey)
}

// Replay folds one hint read from fileID into the index: used both during
// open-time recovery and during compaction's ingestion of its own output
// hints. It compares sequence numbers and keeps the winner.
//
// If the hint is a tombstone and it wins, the key is dropped entirely
// (there is nothing live to point at). If the hint loses against what's
// already indexed, the record it describes is immediately booked as dead
// on its own file, so a future compaction pass reclaims it even though it
// was never live in this process's index.
func (idx *Index) Replay(h *codec.Hint, fileID uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry := Entry{FileID: fileID, Pos: h.LogPos, Seq: h.Seq, Size: h.LogSize()}
	key := string(h.Key)

	existing, ok := idx.byKey[key]
	if !ok {
		if h.Deleted {
			// A tombstone with no live key to delete leaves no trace: it
			// is not booked against any file's fragmentation stats.
			return
		}
		idx.addLocked(entry)
		idx.byKey[key] = entry
		return
	}

	if existing.Seq <= h.Seq {
		idx.chargeDeadLocked(existing)
		if h.Deleted {
			delete(idx.byKey, key)
		} else {
			idx.addLocked(entry)
			idx.byKey[key] = entry
		}
		return
	}

	// This hint lost to what's already indexed (an out-of-order replay,
	// e.g. a hint whose seq is lower than that of the live entry already
	// indexed for the key). It never becomes live; book it dead immediately.
	idx.addLocked(entry)
	idx.chargeDeadLocked(entry)
}

// FileAnalysis returns the live/dead standing of every file the index has
// ever seen a record from.
func (idx *Index) FileAnalysis() []FileAnalysis {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]FileAnalysis, 0, len(idx.byFile))
	for fileID, s := range idx.byFile {
		var ratio float64
		if s.entries > 0 {
			ratio = float64(s.deadEntries) / float64(s.entries)
		}
		out = append(out, FileAnalysis{FileID: fileID, FragmentationRatio: ratio, DeadBytes: s.deadBytes})
	}
	return out
}

// RemoveFiles drops the accumulated stats for the given files, called
// after compaction has swapped them out.
func (idx *Index) RemoveFiles(fileIDs []uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range fileIDs {
		delete(idx.byFile, id)
	}
}
