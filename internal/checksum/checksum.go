// Package checksum computes the 32-bit integrity hash used to guard every
// record written to a data file and the body of every compaction hint file
// (through its trailer; hint records carry no checksum of their own).
//
// The algorithm is xxHash, seeded with 0, truncated to its low 32 bits. This
// mirrors original_source's storage/xxhash.rs, which wraps twox_hash's
// XxHash32 with seed 0; here it is built directly on the real xxh3 module
// rather than a hand-rolled reimplementation.
package checksum

import "github.com/zeebo/xxh3"

// Checksum returns the checksum of buf.
func Checksum(buf []byte) uint32 {
	return uint32(xxh3.Hash(buf))
}

// Hasher accumulates bytes across multiple Write calls and produces the
// same 32-bit value Checksum would produce over the concatenation of all
// writes. It is used by the log writer to checksum a record's fields
// without first concatenating them into one buffer.
type Hasher struct {
	h *xxh3.Hasher
}

// NewHasher returns a Hasher ready to accept writes.
func NewHasher() *Hasher {
	return &Hasher{h: xxh3.New()}
}

// Write implements io.Writer. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum32 returns the checksum of all bytes written so far.
func (h *Hasher) Sum32() uint32 {
	return uint32(h.h.Sum64())
}

// Reset clears the hasher so it can be reused.
func (h *Hasher) Reset() {
	h.h.Reset()
}
