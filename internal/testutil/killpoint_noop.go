//go:build !crashtest

// This file provides no-op implementations of kill point functions for
// production builds. When built without the "crashtest" tag, all kill point
// calls are effectively eliminated by the compiler.
package testutil

// KillPointEnvVar is the environment variable used to set the kill point target.
// In production builds, this is defined but ignored.
const KillPointEnvVar = "CRABEDB_KILL_POINT"

// SetKillPoint is a no-op in production builds.
func SetKillPoint(_ string) {}

// ClearKillPoint is a no-op in production builds.
func ClearKillPoint() {}

// ArmKillPoint is a no-op in production builds.
func ArmKillPoint() {}

// DisarmKillPoint is a no-op in production builds.
func DisarmKillPoint() {}

// IsKillPointArmed always returns false in production builds.
func IsKillPointArmed() bool { return false }

// GetKillPointTarget always returns empty string in production builds.
func GetKillPointTarget() string { return "" }

// GetKillPointHitCount always returns 0 in production builds.
func GetKillPointHitCount(_ string) int64 { return 0 }

// ResetKillPointCounts is a no-op in production builds.
func ResetKillPointCounts() {}

// MaybeKill is a no-op in production builds.
// The compiler should inline and eliminate this entirely.
func MaybeKill(_ string) {}

// Kill point name constants - defined for API compatibility even in prod builds.
const (
	KPLogstoreAppend0 = "Logstore.Append:0"
	KPLogstoreAppend1 = "Logstore.Append:1"
	KPLogstoreAppend2 = "Logstore.Append:2"

	KPLogstoreSync0 = "Logstore.Sync:0"
	KPLogstoreSync1 = "Logstore.Sync:1"

	KPLogstoreRotate0 = "Logstore.Rotate:0"
	KPLogstoreRotate1 = "Logstore.Rotate:1"
	KPLogstoreRotate2 = "Logstore.Rotate:2"

	KPCompactSwap0 = "Compact.Swap:0"
	KPCompactSwap1 = "Compact.Swap:1"

	KPFileSync0 = "File.Sync:0"
	KPFileSync1 = "File.Sync:1"
)
