// Package fileset owns the data directory: the exclusive lock file, the
// set of numbered data/hint file pairs, the bounded descriptor cache for
// read handles, and path helpers. See spec component 4.C.
package fileset

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gabrielmougard/crabedb/internal/cache"
	"github.com/gabrielmougard/crabedb/internal/checksum"
	"github.com/gabrielmougard/crabedb/internal/codec"
	"github.com/gabrielmougard/crabedb/internal/logging"
	"github.com/gabrielmougard/crabedb/internal/testutil"
	"github.com/gabrielmougard/crabedb/internal/vfs"
)

// ErrInvalidPath is returned when the directory-open preconditions are
// violated (create=false and the directory doesn't exist, or the path
// exists but isn't a directory).
var ErrInvalidPath = errors.New("fileset: invalid path")

// ErrInvalidFileID is returned when an operation references a file id not
// in the file set's known list.
var ErrInvalidFileID = errors.New("fileset: invalid file id")

// FileSet owns a data directory and the bookkeeping around it.
type FileSet struct {
	fs     vfs.FS
	dir    string
	lock   io.Closer
	logger logging.Logger

	mu    sync.Mutex
	files []uint32

	seq     *idSequence
	fdCache *cache.FDCache
}

// Open acquires the directory lock, enumerates existing data files, and
// returns a ready FileSet. If create is true, dir is created when absent;
// otherwise a missing or non-directory dir is ErrInvalidPath.
func Open(fsys vfs.FS, dir string, create bool, fdCacheCapacity int, logger logging.Logger) (*FileSet, error) {
	logger = logging.OrDefault(logger)

	if create {
		if fsys.Exists(dir) {
			info, err := fsys.Stat(dir)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				return nil, ErrInvalidPath
			}
		} else if err := fsys.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	} else {
		if !fsys.Exists(dir) {
			return nil, ErrInvalidPath
		}
		info, err := fsys.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, ErrInvalidPath
		}
	}

	lock, err := fsys.Lock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, err
	}

	names, err := fsys.ListDir(dir)
	if err != nil {
		_ = lock.Close()
		return nil, err
	}

	var files []uint32
	for _, name := range names {
		if id, ok := parseDataFileID(name); ok {
			files = append(files, id)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })

	var current uint32
	if len(files) > 0 {
		current = files[len(files)-1]
	}

	logger.Infof("%scurrent file id: %d", logging.NSFileset, current)

	return &FileSet{
		fs:      fsys,
		dir:     dir,
		lock:    lock,
		logger:  logger,
		files:   files,
		seq:     newIDSequence(current),
		fdCache: cache.NewFDCache(fdCacheCapacity),
	}, nil
}

// Close closes the descriptor cache and releases the directory lock.
func (fset *FileSet) Close() error {
	fset.fdCache.Close()
	return fset.lock.Close()
}

// Dir returns the data directory path.
func (fset *FileSet) Dir() string {
	return fset.dir
}

// Files returns the known file ids in ascending order.
func (fset *FileSet) Files() []uint32 {
	fset.mu.Lock()
	defer fset.mu.Unlock()
	out := make([]uint32, len(fset.files))
	copy(out, fset.files)
	return out
}

// AddFile records fileID as part of the known set, keeping it sorted.
func (fset *FileSet) AddFile(fileID uint32) {
	fset.mu.Lock()
	defer fset.mu.Unlock()
	fset.files = append(fset.files, fileID)
	sort.Slice(fset.files, func(i, j int) bool { return fset.files[i] < fset.files[j] })
}

// NextFileID atomically allocates the next file id.
func (fset *FileSet) NextFileID() uint32 {
	return fset.seq.Increment()
}

// FileSize returns fileID's data file size, through the descriptor cache.
func (fset *FileSet) FileSize(fileID uint32) (int64, error) {
	h, err := fset.borrowReader(fileID)
	if err != nil {
		return 0, err
	}
	defer fset.fdCache.Release(fileID)
	return h.Size(), nil
}

// OpenDataWriter opens fileID's data file for appending, creating it if
// new. The returned handle is not cached; the caller owns it for the
// lifetime of the active file.
func (fset *FileSet) OpenDataWriter(fileID uint32) (vfs.WritableFile, error) {
	return fset.fs.OpenAppend(DataPath(fset.dir, fileID))
}

// DataReader is a borrowed, cached handle for random-access or sequential
// reads against a data file. Release must be called exactly once.
type DataReader struct {
	fset   *FileSet
	fileID uint32
	ra     vfs.RandomAccessFile
}

// ReadAt implements io.ReaderAt.
func (r *DataReader) ReadAt(p []byte, off int64) (int, error) {
	return r.ra.ReadAt(p, off)
}

// Size returns the file's size in bytes.
func (r *DataReader) Size() int64 {
	return r.ra.Size()
}

// Reader returns an io.Reader over the file from the given offset to EOF.
func (r *DataReader) Reader(from int64) io.Reader {
	return io.NewSectionReader(r.ra, from, r.ra.Size()-from)
}

// Release returns the handle to the descriptor cache.
func (r *DataReader) Release() {
	r.fset.fdCache.Release(r.fileID)
}

// OpenDataReader returns a cached read handle for fileID.
func (fset *FileSet) OpenDataReader(fileID uint32) (*DataReader, error) {
	ra, err := fset.borrowReader(fileID)
	if err != nil {
		return nil, err
	}
	return &DataReader{fset: fset, fileID: fileID, ra: ra}, nil
}

// borrowReader returns a pinned cached handle for fileID's data file,
// opening one on a cache miss. The caller must call fdCache.Release(fileID)
// exactly once.
func (fset *FileSet) borrowReader(fileID uint32) (vfs.RandomAccessFile, error) {
	if h := fset.fdCache.Lookup(fileID); h != nil {
		return h.(vfs.RandomAccessFile), nil
	}
	ra, err := fset.fs.OpenRandomAccess(DataPath(fset.dir, fileID))
	if err != nil {
		return nil, err
	}
	fset.fdCache.Insert(fileID, ra)
	return ra, nil
}

// HintWriter writes compaction hint records to fileID's hint file while
// accumulating a running checksum over every byte written. Close must be
// called to flush the trailing checksum; skipping it leaves a hint file
// that fails trailer validation on the next open, which is safe (the
// recovery path rebuilds it by scanning the data file) but wasteful.
type HintWriter struct {
	f      vfs.WritableFile
	hasher *checksum.Hasher
}

// OpenHintWriter opens fileID's hint file for writing, truncating any
// previous contents (used both for fresh appends and for rebuild_hints).
func (fset *FileSet) OpenHintWriter(fileID uint32) (*HintWriter, error) {
	f, err := fset.fs.Create(HintPath(fset.dir, fileID))
	if err != nil {
		return nil, err
	}
	return &HintWriter{f: f, hasher: checksum.NewHasher()}, nil
}

// Write implements io.Writer, feeding bytes both to the file and the
// trailer hasher.
func (w *HintWriter) Write(p []byte) (int, error) {
	if _, err := w.hasher.Write(p); err != nil {
		return 0, err
	}
	return w.f.Write(p)
}

// Close writes the trailing checksum and closes the underlying file.
func (w *HintWriter) Close() error {
	if err := codec.EncodeTrailer(w.f, w.hasher.Sum32()); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// OpenHintReader validates fileID's hint file trailer and, if valid,
// returns a reader over its body (trailer excluded) along with a borrowed
// handle Release func. If the trailer is missing or mismatched it returns
// (nil, nil, false, nil): the caller must rebuild the hint file instead.
func (fset *FileSet) OpenHintReader(fileID uint32) (r io.Reader, release func(), valid bool, err error) {
	path := HintPath(fset.dir, fileID)
	if !fset.fs.Exists(path) {
		return nil, nil, false, nil
	}

	f, err := fset.fs.Open(path)
	if err != nil {
		return nil, nil, false, err
	}
	body, readErr := io.ReadAll(f)
	_ = f.Close()
	if readErr != nil {
		return nil, nil, false, readErr
	}

	if len(body) < codec.TrailerSize {
		return nil, nil, false, nil
	}

	split := len(body) - codec.TrailerSize
	want := checksum.Checksum(body[:split])
	got, err := codec.DecodeTrailer(bytes.NewReader(body[split:]))
	if err != nil {
		return nil, nil, false, err
	}
	if got != want {
		fset.logger.Warnf("%sfound corrupt hint file for id %d", logging.NSFileset, fileID)
		return nil, nil, false, nil
	}

	return bytes.NewReader(body[:split]), func() {}, true, nil
}

// SwapFiles atomically publishes a compaction's output: newFiles are added
// to the known set, and oldFiles' data and hint files are unlinked. A
// missing hint file is ignored; a missing data file is an error.
func (fset *FileSet) SwapFiles(oldFiles, newFiles []uint32) error {
	fset.mu.Lock()
	defer fset.mu.Unlock()

	testutil.MaybeKill(testutil.KPCompactSwap0)

	for _, id := range oldFiles {
		idx := sort.Search(len(fset.files), func(i int) bool { return fset.files[i] >= id })
		if idx >= len(fset.files) || fset.files[idx] != id {
			return ErrInvalidFileID
		}

		fset.fdCache.Evict(id)

		if err := fset.fs.Remove(DataPath(fset.dir, id)); err != nil {
			return err
		}
		_ = fset.fs.Remove(HintPath(fset.dir, id)) // missing hint file is ignored

		fset.files = append(fset.files[:idx], fset.files[idx+1:]...)
	}

	testutil.MaybeKill(testutil.KPCompactSwap1)

	fset.files = append(fset.files, newFiles...)
	sort.Slice(fset.files, func(i, j int) bool { return fset.files[i] < fset.files[j] })

	return nil
}
