// Package crabedb is an embedded, append-only key/value store: every write
// is a checksummed record appended to the currently active data file, an
// in-memory index maps each key to its most recent location, and a
// background compactor periodically rewrites fragmented files to reclaim
// space occupied by overwritten or deleted keys.
//
// A store is a directory on disk (see Options for its layout and tunables).
// Open acquires an exclusive lock on that directory for the lifetime of
// the returned Engine; only one process may hold a store open at a time.
package crabedb
