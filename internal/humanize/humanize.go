// Package humanize formats byte counts for log lines, such as the
// compaction trigger's "file 7 has 128.0 MiB of dead data" messages.
package humanize

import "fmt"

// Bytes formats n using binary (1024-based) units: B, KiB, MiB, GiB, TiB,
// PiB, EiB.
func Bytes(n uint64) string {
	return format(n, 1024, "KMGTPE", "i")
}

// SIBytes formats n using decimal (1000-based) units: B, kB, MB, GB, TB,
// PB, EB.
func SIBytes(n uint64) string {
	return format(n, 1000, "kMGTPE", "")
}

// format divides n by unit repeatedly rather than computing the exponent
// via a logarithm: the original implementation this is grounded on picks
// the exponent with ln(n)/ln(unit), which is exact in theory but can land
// one unit short after floating-point rounding (e.g. 1000000 at unit 1000
// can compute to 1.9999999999998 instead of 2). Repeated division has no
// such edge case.
func format(n uint64, unit uint64, prefixes string, suffix string) string {
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	value := float64(n)
	exp := 0
	for value >= float64(unit) && exp < len(prefixes) {
		value /= float64(unit)
		exp++
	}

	prefix := prefixes[exp-1 : exp]
	return fmt.Sprintf("%.1f %s%sB", value, prefix, suffix)
}
