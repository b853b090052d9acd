package crabedb

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gabrielmougard/crabedb/internal/fileset"
)

func openTestEngine(t *testing.T, dir string, configure func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Sync = SyncAlways
	opts.Compaction = false
	opts.Logger = nil
	if configure != nil {
		configure(opts)
	}
	e, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func TestSetGetRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, nil)
	defer e.Close()

	if err := e.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok, err := e.Get([]byte("k1"))
	if err != nil || !ok {
		t.Fatalf("Get: value=%q ok=%v err=%v", value, ok, err)
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Errorf("Get = %q, want v1", value)
	}

	if err := e.Remove([]byte("k1")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := e.Get([]byte("k1")); err != nil || ok {
		t.Fatalf("Get after Remove: ok=%v err=%v", ok, err)
	}

	// Removing an already-absent key is a no-op, not an error.
	if err := e.Remove([]byte("k1")); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestGetMissingKey(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, nil)
	defer e.Close()

	if _, ok, err := e.Get([]byte("nope")); err != nil || ok {
		t.Fatalf("ok=%v err=%v, want false/nil", ok, err)
	}
}

func TestKeys(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, nil)
	defer e.Close()

	for _, k := range []string{"a", "b", "c"} {
		if err := e.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	if err := e.Remove([]byte("b")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	keys, err := e.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[string(k)] = true
	}
	if !seen["a"] || seen["b"] || !seen["c"] {
		t.Errorf("Keys = %v, want {a,c}", keys)
	}
}

func TestOperationsAfterCloseReturnErrDatabaseClosed(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, nil)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, _, err := e.Get([]byte("k")); err != ErrDatabaseClosed {
		t.Errorf("Get after Close = %v, want ErrDatabaseClosed", err)
	}
	if err := e.Set([]byte("k"), []byte("v")); err != ErrDatabaseClosed {
		t.Errorf("Set after Close = %v, want ErrDatabaseClosed", err)
	}
	if err := e.Remove([]byte("k")); err != ErrDatabaseClosed {
		t.Errorf("Remove after Close = %v, want ErrDatabaseClosed", err)
	}
	if _, err := e.Keys(); err != ErrDatabaseClosed {
		t.Errorf("Keys after Close = %v, want ErrDatabaseClosed", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, nil)
	if err := e.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestReopenRecoversFromHints(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, nil)
	if err := e.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Set([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Remove([]byte("k1")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := openTestEngine(t, dir, nil)
	defer e2.Close()

	if _, ok, err := e2.Get([]byte("k1")); err != nil || ok {
		t.Fatalf("k1: ok=%v err=%v, want absent", ok, err)
	}
	value, ok, err := e2.Get([]byte("k2"))
	if err != nil || !ok || !bytes.Equal(value, []byte("v2")) {
		t.Fatalf("k2: value=%q ok=%v err=%v, want v2/true/nil", value, ok, err)
	}

	// A write after reopen must use a sequence number past anything
	// recovered, or it could lose to a stale index entry.
	if err := e2.Set([]byte("k2"), []byte("v2-updated")); err != nil {
		t.Fatalf("Set after reopen: %v", err)
	}
	value, ok, err = e2.Get([]byte("k2"))
	if err != nil || !ok || !bytes.Equal(value, []byte("v2-updated")) {
		t.Fatalf("k2 after update: value=%q ok=%v err=%v", value, ok, err)
	}
}

func TestReopenRebuildsMissingHintFile(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, nil)
	if err := e.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, ent := range entries {
		if strings.HasSuffix(ent.Name(), "."+fileset.HintFileExtension) {
			if err := os.Remove(filepath.Join(dir, ent.Name())); err != nil {
				t.Fatalf("removing hint file: %v", err)
			}
		}
	}

	e2 := openTestEngine(t, dir, nil)
	defer e2.Close()

	value, ok, err := e2.Get([]byte("k1"))
	if err != nil || !ok || !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("value=%q ok=%v err=%v, want v1/true/nil", value, ok, err)
	}
}

func TestReopenRecoversFromTornTailAndResumesSequence(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, nil)

	if err := e.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set k1: %v", err)
	}
	if err := e.Set([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("Set k2: %v", err)
	}
	seqBeforeClose := e.seq
	activeFileID, haveActive := e.log.ActiveFileID()
	if !haveActive {
		t.Fatal("expected an active file after writes")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Also drop the hint file so recovery is forced to replay the data
	// file directly, where a torn trailing record is actually observed
	// (a stale-but-valid hint file would otherwise hide the truncation).
	if err := os.Remove(fileset.HintPath(dir, activeFileID)); err != nil {
		t.Fatalf("removing hint file: %v", err)
	}

	path := fileset.DataPath(dir, activeFileID)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	e2 := openTestEngine(t, dir, nil)
	defer e2.Close()

	v, ok, err := e2.Get([]byte("k1"))
	if err != nil || !ok || !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("k1 after torn-tail recovery: value=%q ok=%v err=%v", v, ok, err)
	}
	if _, ok, err := e2.Get([]byte("k2")); err != nil || ok {
		t.Fatalf("k2 should have been dropped as the torn trailing record: ok=%v err=%v", ok, err)
	}

	// k1 was written at seqBeforeClose-2; k2, at seqBeforeClose-1, was torn.
	if e2.seq <= seqBeforeClose-2 {
		t.Errorf("sequence counter after recovery = %d, want it to continue past the surviving record's seq", e2.seq)
	}

	if err := e2.Set([]byte("k3"), []byte("v3")); err != nil {
		t.Fatalf("Set after recovery: %v", err)
	}
	if v, ok, err := e2.Get([]byte("k3")); err != nil || !ok || !bytes.Equal(v, []byte("v3")) {
		t.Fatalf("k3 after recovery: value=%q ok=%v err=%v", v, ok, err)
	}
}

func TestRotationAcrossSmallMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir, func(o *Options) {
		o.MaxFileSize = 64
	})
	defer e.Close()

	for i := 0; i < 50; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		if err := e.Set(key, bytes.Repeat([]byte{'x'}, 32)); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
	}

	if n := len(e.fset.Files()); n < 2 {
		t.Errorf("expected rotation to produce multiple files, got %d", n)
	}

	for i := 0; i < 50; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		if _, ok, err := e.Get(key); err != nil || !ok {
			t.Fatalf("Get #%d: ok=%v err=%v", i, ok, err)
		}
	}
}
