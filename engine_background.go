package crabedb

import (
	"time"

	"github.com/gabrielmougard/crabedb/internal/logging"
)

// startBackgroundWorkers launches the periodic-sync and periodic-
// compaction-check goroutines per opts, mirroring original_source's
// CrabeDB::load, which spawns exactly these two threads reading a shared
// dropped flag.
func (e *Engine) startBackgroundWorkers() {
	if e.opts.Sync == SyncFrequency {
		e.wg.Add(1)
		go e.syncLoop()
	}
	if e.opts.Compaction {
		e.wg.Add(1)
		go e.compactionLoop()
	}
}

func (e *Engine) syncLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.RLock()
			err := e.log.Sync()
			e.mu.RUnlock()
			if err != nil {
				// Background sync errors are logged, not surfaced; the
				// next tick retries.
				e.logger.Warnf("%sbackground sync failed: %v", logging.NSEngine, err)
			}
		}
	}
}

func (e *Engine) compactionLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.CompactionCheckFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.inCompactionWindow(time.Now()) {
				continue
			}
			if err := e.Compact(); err != nil {
				e.logger.Warnf("%sbackground compaction failed: %v", logging.NSEngine, err)
			}
		}
	}
}

// inCompactionWindow reports whether t's local hour falls within
// [CompactionWindowStart, CompactionWindowEnd]. Inverted windows are
// rejected at Options validation time (see DESIGN.md), so this predicate
// only ever needs to handle the non-inverted case.
func (e *Engine) inCompactionWindow(t time.Time) bool {
	hour := t.Hour()
	return hour >= e.opts.CompactionWindowStart && hour <= e.opts.CompactionWindowEnd
}
