package fileset

import "sync/atomic"

// idSequence is a dedicated atomic counter type for file-id allocation,
// mirroring original_source's Sequence newtype over an atomic rather than
// a bare atomic.Uint32, for symmetry with the teacher's own small-wrapper-
// type idiom.
type idSequence struct {
	v atomic.Uint32
}

// newIDSequence returns a sequence whose next Increment call yields
// current+1.
func newIDSequence(current uint32) *idSequence {
	s := &idSequence{}
	s.v.Store(current)
	return s
}

// Increment atomically allocates and returns the next file id.
func (s *idSequence) Increment() uint32 {
	return s.v.Add(1)
}
