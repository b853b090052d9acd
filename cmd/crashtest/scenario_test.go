//go:build crashtest

// Whitebox crash-injection scenarios for crabedb.
//
// Each test arms one of the kill points wired into internal/logstore and
// internal/fileset (internal/testutil.KPLogstore*/KPCompact*), re-execs this
// test binary as a child process that crashes exactly there, and then
// reopens the store in the parent to check spec.md §8 scenario S3's
// recovery invariant: whatever was durable before the kill survives,
// whatever wasn't is silently dropped, and the store always reopens
// cleanly — never a hard failure because of where the crash landed.
//
// Build and run:
//
//	go test -tags crashtest -v ./cmd/crashtest/... -run TestScenario
package main

import (
	"bytes"
	"os"
	"os/exec"
	"testing"
	"time"

	crabedb "github.com/gabrielmougard/crabedb"
	"github.com/gabrielmougard/crabedb/internal/testutil"
)

// crashtestChildEnvVar names the test that should run its child branch.
// testutil's own CRABEDB_KILL_POINT env var (read in its package init)
// arms the kill point itself; this var only distinguishes parent from
// child within the same re-exec'd binary.
const crashtestChildEnvVar = "CRABEDB_CRASHTEST_CHILD"

// runCrashChild runs open(dir) followed by ops in a child process with
// killPoint armed. The child is expected to be terminated by MaybeKill
// (exit code 0) before ops returns; if it runs to completion instead, the
// kill point never fired and the scenario is invalid.
func runCrashChild(t *testing.T, dir, killPoint string, open func() (*crabedb.Engine, error), ops func(*crabedb.Engine)) {
	t.Helper()

	if os.Getenv(crashtestChildEnvVar) == t.Name() {
		e, err := open()
		if err != nil {
			t.Fatalf("child Open: %v", err)
		}
		ops(e)
		// Reaching here means the kill point was never hit.
		_ = e.Close()
		os.Exit(2)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^"+t.Name()+"$", "-test.v")
	cmd.Env = append(os.Environ(),
		crashtestChildEnvVar+"="+t.Name(),
		testutil.KillPointEnvVar+"="+killPoint,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("starting child: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			return // exit code 0: the kill point fired as expected
		}
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("running child: %v", err)
		}
		switch exitErr.ExitCode() {
		case 2:
			t.Fatalf("kill point %s was never hit; child ran to completion.\nstdout: %s\nstderr: %s",
				killPoint, stdout.String(), stderr.String())
		default:
			t.Fatalf("child exited %d.\nstdout: %s\nstderr: %s",
				exitErr.ExitCode(), stdout.String(), stderr.String())
		}
	case <-time.After(30 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatalf("child timed out.\nstdout: %s\nstderr: %s", stdout.String(), stderr.String())
	}
}

func reopen(t *testing.T, dir string) *crabedb.Engine {
	t.Helper()
	e, err := crabedb.Open(dir, crabedb.DefaultOptions())
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func mustGet(t *testing.T, e *crabedb.Engine, key, want string) {
	t.Helper()
	v, ok, err := e.Get([]byte(key))
	if err != nil || !ok || !bytes.Equal(v, []byte(want)) {
		t.Fatalf("Get(%q) = %q, ok=%v, err=%v; want %q, true, nil", key, v, ok, err, want)
	}
}

func mustMiss(t *testing.T, e *crabedb.Engine, key string) {
	t.Helper()
	if _, ok, err := e.Get([]byte(key)); err != nil || ok {
		t.Fatalf("Get(%q) = ok=%v, err=%v; want false, nil", key, ok, err)
	}
}

// =============================================================================
// Logstore.Append family
// =============================================================================

// TestScenarioAppendKilledBeforeRecordWrittenLosesTheWrite crashes at
// Logstore.Append:0, before the record itself is written. The write must
// be entirely absent after recovery — not a torn record, not a partial
// index entry.
func TestScenarioAppendKilledBeforeRecordWrittenLosesTheWrite(t *testing.T) {
	dir := t.TempDir()
	openFn := func() (*crabedb.Engine, error) {
		opts := crabedb.DefaultOptions()
		opts.Sync = crabedb.SyncNever
		opts.Compaction = false
		return crabedb.Open(dir, opts)
	}

	// Establish a baseline before the kill point is armed: Append:0 fires
	// on every call to Append, including the child's very first one, so
	// the seeded key has to already be durable from a prior, unarmed run.
	{
		e, err := openFn()
		if err != nil {
			t.Fatalf("seeding Open: %v", err)
		}
		if err := e.Set([]byte("seed"), []byte("ok")); err != nil {
			t.Fatalf("seeding Set: %v", err)
		}
		if err := e.Close(); err != nil {
			t.Fatalf("seeding Close: %v", err)
		}
	}

	runCrashChild(t, dir, testutil.KPLogstoreAppend0, openFn, func(e *crabedb.Engine) {
		_ = e.Set([]byte("victim"), []byte("never-durable"))
	})

	e := reopen(t, dir)
	mustGet(t, e, "seed", "ok")
	mustMiss(t, e, "victim")
}

// TestScenarioAppendKilledAfterRecordBeforeHintLosesIndexEntryOnly crashes
// at Logstore.Append:1 — the data record is fully written but the hint
// never is. Recovery's valid-hint-file fast path therefore won't see the
// key (its hint file is internally consistent without it); this is the
// expected Bitcask trade-off: a hint-file entry is what makes a write
// index-durable, not the data record by itself.
func TestScenarioAppendKilledAfterRecordBeforeHintLosesIndexEntryOnly(t *testing.T) {
	dir := t.TempDir()
	openFn := func() (*crabedb.Engine, error) {
		opts := crabedb.DefaultOptions()
		opts.Sync = crabedb.SyncNever
		opts.Compaction = false
		return crabedb.Open(dir, opts)
	}

	// Append:1 fires on every call to Append, so the baseline write has
	// to land before the kill point is armed — otherwise it would be the
	// one that gets killed instead of "victim".
	{
		e, err := openFn()
		if err != nil {
			t.Fatalf("seeding Open: %v", err)
		}
		if err := e.Set([]byte("seed"), []byte("ok")); err != nil {
			t.Fatalf("seeding Set: %v", err)
		}
		if err := e.Close(); err != nil {
			t.Fatalf("seeding Close: %v", err)
		}
	}

	runCrashChild(t, dir, testutil.KPLogstoreAppend1, openFn, func(e *crabedb.Engine) {
		_ = e.Set([]byte("victim"), []byte("torn-hint"))
	})

	e := reopen(t, dir)
	mustGet(t, e, "seed", "ok")
	mustMiss(t, e, "victim")
}

// =============================================================================
// Logstore.Sync family
// =============================================================================

// TestScenarioSyncKilledAfterFsyncSurvives crashes at Logstore.Sync:1,
// after the fsync for a SyncAlways write has completed. Both the record
// and its hint were already written before the sync kill points, so the
// write must be fully durable.
func TestScenarioSyncKilledAfterFsyncSurvives(t *testing.T) {
	dir := t.TempDir()
	openFn := func() (*crabedb.Engine, error) {
		opts := crabedb.DefaultOptions()
		opts.Sync = crabedb.SyncAlways
		opts.Compaction = false
		return crabedb.Open(dir, opts)
	}

	runCrashChild(t, dir, testutil.KPLogstoreSync1, openFn, func(e *crabedb.Engine) {
		_ = e.Set([]byte("synced"), []byte("durable"))
	})

	e := reopen(t, dir)
	mustGet(t, e, "synced", "durable")
}

// TestScenarioSyncKilledBeforeFsyncStillOpensCleanly crashes at
// Logstore.Sync:0 — the record and hint are both already written (Append
// writes them before ever calling Sync), only the fsync call itself is
// outstanding. The store must still reopen without error regardless of
// whether the fsync would have changed anything observable.
func TestScenarioSyncKilledBeforeFsyncStillOpensCleanly(t *testing.T) {
	dir := t.TempDir()
	openFn := func() (*crabedb.Engine, error) {
		opts := crabedb.DefaultOptions()
		opts.Sync = crabedb.SyncAlways
		opts.Compaction = false
		return crabedb.Open(dir, opts)
	}

	runCrashChild(t, dir, testutil.KPLogstoreSync0, openFn, func(e *crabedb.Engine) {
		_ = e.Set([]byte("maybe-synced"), []byte("v"))
	})

	e := reopen(t, dir)
	mustGet(t, e, "maybe-synced", "v")
}

// =============================================================================
// Logstore.Rotate family
// =============================================================================

// TestScenarioRotateKilledBeforeFirstFileExistsOpensEmpty crashes at
// Logstore.Rotate:0 on the very first ever append, before any data file
// is created on disk. Reopening must yield a valid, empty store.
func TestScenarioRotateKilledBeforeFirstFileExistsOpensEmpty(t *testing.T) {
	dir := t.TempDir()
	openFn := func() (*crabedb.Engine, error) {
		opts := crabedb.DefaultOptions()
		opts.Sync = crabedb.SyncNever
		opts.Compaction = false
		return crabedb.Open(dir, opts)
	}

	runCrashChild(t, dir, testutil.KPLogstoreRotate0, openFn, func(e *crabedb.Engine) {
		_ = e.Set([]byte("first-ever-key"), []byte("v"))
	})

	e := reopen(t, dir)
	mustMiss(t, e, "first-ever-key")
	if err := e.Set([]byte("after-empty-recovery"), []byte("v")); err != nil {
		t.Fatalf("Set after empty recovery: %v", err)
	}
	mustGet(t, e, "after-empty-recovery", "v")
}

// TestScenarioRotateKilledAfterNewPairCreatedOpensEmptyPair crashes at
// Logstore.Rotate:2, after the new file's data and hint writers are
// created on disk but before the rotation result is ever recorded in
// LogStore's in-memory state (and so before any record is written into
// them). Reopening must discover the empty pair, treat its empty hint
// file as needing a rebuild, and rebuild it into an equally empty but
// valid hint file rather than erroring on a zero-length trailer.
func TestScenarioRotateKilledAfterNewPairCreatedOpensEmptyPair(t *testing.T) {
	dir := t.TempDir()
	openFn := func() (*crabedb.Engine, error) {
		opts := crabedb.DefaultOptions()
		opts.Sync = crabedb.SyncNever
		opts.Compaction = false
		return crabedb.Open(dir, opts)
	}

	runCrashChild(t, dir, testutil.KPLogstoreRotate2, openFn, func(e *crabedb.Engine) {
		_ = e.Set([]byte("first-ever-key"), []byte("v"))
	})

	e := reopen(t, dir)
	mustMiss(t, e, "first-ever-key")
	if err := e.Set([]byte("after-empty-pair-recovery"), []byte("v")); err != nil {
		t.Fatalf("Set after empty-pair recovery: %v", err)
	}
	mustGet(t, e, "after-empty-pair-recovery", "v")
}

// =============================================================================
// Compact.Swap family
// =============================================================================

// TestScenarioCompactSwapKilledAfterOldFilesUnlinkedStaysCorrect crashes
// at Compact.Swap:1, after the stale input files are unlinked but before
// the compacted output files are added to the in-memory known file set.
// Only the output files and the active file remain on disk at recovery
// time, and reopening discovers them from the directory listing; every
// live key must still resolve to its latest value.
func TestScenarioCompactSwapKilledAfterOldFilesUnlinkedStaysCorrect(t *testing.T) {
	dir := t.TempDir()
	openFn := func() (*crabedb.Engine, error) {
		opts := crabedb.DefaultOptions()
		opts.Sync = crabedb.SyncNever
		opts.Compaction = false
		opts.MaxFileSize = 128
		opts.FragmentationTrigger = 0.1
		opts.FragmentationThreshold = 0.05
		opts.DeadBytesTrigger = 1
		opts.DeadBytesThreshold = 1
		return crabedb.Open(dir, opts)
	}

	runCrashChild(t, dir, testutil.KPCompactSwap1, openFn, func(e *crabedb.Engine) {
		value := bytes.Repeat([]byte{'x'}, 32)
		for i := 0; i < 40; i++ {
			_ = e.Set([]byte("hot-key"), value)
		}
		_ = e.Set([]byte("other-key"), value)
		_ = e.Compact()
	})

	e := reopen(t, dir)
	value := bytes.Repeat([]byte{'x'}, 32)
	v, ok, err := e.Get([]byte("hot-key"))
	if err != nil || !ok || !bytes.Equal(v, value) {
		t.Fatalf("hot-key after Compact.Swap:1 crash: ok=%v err=%v", ok, err)
	}
	v, ok, err = e.Get([]byte("other-key"))
	if err != nil || !ok || !bytes.Equal(v, value) {
		t.Fatalf("other-key after Compact.Swap:1 crash: ok=%v err=%v", ok, err)
	}
}
