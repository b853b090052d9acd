//go:build crashtest

// Package testutil provides test utilities for crash and torn-tail recovery
// testing.
//
// Kill points provide a mechanism to deterministically exit a process at
// specific code locations for whitebox crash testing: the log manager's
// append/sync/rotate paths call MaybeKill at known points so a test can
// force a crash mid-append or mid-sync and then assert on what recovery
// reconstructs.
//
// Usage:
//
//	// In production code (compiled out without build tag):
//	testutil.MaybeKill("Logstore.Append:1")
//
//	// In test harness (set via env var or API):
//	testutil.SetKillPoint("Logstore.Append:1")
//
// Build with kill points enabled:
//
//	go build -tags crashtest ./...
package testutil

import (
	"os"
	"sync"
	"sync/atomic"
)

// killPointState holds the global kill point configuration.
type killPointState struct {
	// target is the name of the kill point that should trigger exit.
	// Empty string means no kill point is set.
	target atomic.Value // stores string

	// armed controls whether kill points are active.
	// This allows temporarily disabling kill points without clearing the target.
	armed atomic.Bool

	// hitCount tracks how many times each kill point was reached.
	// Useful for debugging and verification.
	mu        sync.RWMutex
	hitCounts map[string]int64
}

// globalKillPoint is the singleton kill point state.
var globalKillPoint = &killPointState{
	hitCounts: make(map[string]int64),
}

// KillPointEnvVar is the environment variable used to set the kill point target.
const KillPointEnvVar = "CRABEDB_KILL_POINT"

func init() {
	// Check environment variable on startup
	if target := os.Getenv(KillPointEnvVar); target != "" {
		globalKillPoint.target.Store(target)
		globalKillPoint.armed.Store(true)
	}
}

// SetKillPoint sets the target kill point name.
// When MaybeKill is called with this name, the process will exit.
func SetKillPoint(name string) {
	globalKillPoint.target.Store(name)
	globalKillPoint.armed.Store(true)
}

// ClearKillPoint clears the kill point target.
func ClearKillPoint() {
	globalKillPoint.target.Store("")
	globalKillPoint.armed.Store(false)
}

// ArmKillPoint enables kill point processing.
func ArmKillPoint() {
	globalKillPoint.armed.Store(true)
}

// DisarmKillPoint disables kill point processing without clearing the target.
func DisarmKillPoint() {
	globalKillPoint.armed.Store(false)
}

// IsKillPointArmed returns whether kill points are currently armed.
func IsKillPointArmed() bool {
	return globalKillPoint.armed.Load()
}

// GetKillPointTarget returns the current kill point target.
func GetKillPointTarget() string {
	if v := globalKillPoint.target.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// GetKillPointHitCount returns how many times a kill point was reached.
func GetKillPointHitCount(name string) int64 {
	globalKillPoint.mu.RLock()
	defer globalKillPoint.mu.RUnlock()
	return globalKillPoint.hitCounts[name]
}

// ResetKillPointCounts resets all hit counts.
func ResetKillPointCounts() {
	globalKillPoint.mu.Lock()
	defer globalKillPoint.mu.Unlock()
	globalKillPoint.hitCounts = make(map[string]int64)
}

// MaybeKill checks if the named kill point matches the target and exits if so.
// This is the primary entry point for kill points in production code.
//
// If the kill point is armed and the name matches the target, the process
// exits with code 0 (clean exit, not a crash signal).
func MaybeKill(name string) {
	if !globalKillPoint.armed.Load() {
		return
	}

	// Track hit count
	globalKillPoint.mu.Lock()
	globalKillPoint.hitCounts[name]++
	globalKillPoint.mu.Unlock()

	// Check if this is the target
	target, ok := globalKillPoint.target.Load().(string)
	if !ok || target == "" {
		return
	}

	if target == name {
		// Exit cleanly to simulate a crash
		// Exit code 0 indicates intentional kill, not an error
		os.Exit(0)
	}
}

// KillPointNames defines the standard kill point names, following the
// convention "Component.Operation:N" where N numbers the points within
// the operation in the order they are reached, starting at 0.
const (
	// Log append kill points
	KPLogstoreAppend0 = "Logstore.Append:0" // before the record is written
	KPLogstoreAppend1 = "Logstore.Append:1" // after the record is written, before the hint is written
	KPLogstoreAppend2 = "Logstore.Append:2" // after the hint is written, before an optional sync

	// Sync kill points
	KPLogstoreSync0 = "Logstore.Sync:0" // before fsync
	KPLogstoreSync1 = "Logstore.Sync:1" // after fsync

	// Rotation kill points
	KPLogstoreRotate0 = "Logstore.Rotate:0" // before closing the old writer
	KPLogstoreRotate1 = "Logstore.Rotate:1" // after closing the old writer, before creating the new pair
	KPLogstoreRotate2 = "Logstore.Rotate:2" // after creating the new pair, before the first write

	// Compaction swap-in kill points
	KPCompactSwap0 = "Compact.Swap:0" // before old files are unlinked
	KPCompactSwap1 = "Compact.Swap:1" // after old files are unlinked, before new files are added to the known set

	// Generic file kill points
	KPFileSync0 = "File.Sync:0" // before file sync
	KPFileSync1 = "File.Sync:1" // after file sync
)
