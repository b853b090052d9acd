// Package codec serializes and deserializes the two on-disk record kinds:
// log records (the append-only data file's unit) and compaction hints (the
// sibling hint file's shadow record). Encoding and decoding do no I/O of
// their own — they operate against io.Writer/io.Reader so a caller can
// target a file, an in-memory buffer, or the checksum hasher directly (the
// hint file's trailing checksum is computed by re-hashing its own bytes
// through the same Writer interface).
package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/gabrielmougard/crabedb/internal/checksum"
	"github.com/gabrielmougard/crabedb/internal/encoding"
)

// Tombstone is the sentinel value-length marking a deleted key. It is the
// maximum representable uint32, reserved so no real value can reach it
// (MaxValueSize is one less).
const Tombstone = ^uint32(0)

// MaxKeySize is the largest representable key length.
const MaxKeySize = 1<<16 - 1

// MaxValueSize is the largest representable value length; Tombstone is
// reserved, so the real maximum is one below it.
const MaxValueSize = Tombstone - 1

// logStaticSize is the fixed-width header preceding key/value bytes in a
// log record: checksum(4) + seq(8) + key_len(2) + value_len(4).
const logStaticSize = 4 + 8 + 2 + 4

// ErrShortRead is returned when a reader is exhausted before a full
// record could be decoded.
var ErrShortRead = errors.New("codec: short read")

// ErrInvalidKeySize is returned when a key's length is 0 or exceeds MaxKeySize.
var ErrInvalidKeySize = errors.New("codec: invalid key size")

// ErrInvalidValueSize is returned when a value's length exceeds MaxValueSize.
var ErrInvalidValueSize = errors.New("codec: invalid value size")

// ChecksumError reports a checksum mismatch detected during decode. It
// carries both the value read from the record and the value recomputed
// over its bytes, per spec.md's InvalidChecksum error kind.
type ChecksumError struct {
	Expected uint32
	Found    uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("codec: checksum mismatch: expected %08x, found %08x", e.Expected, e.Found)
}

// Record is a decoded log record: a key/value pair (or a tombstone for
// key) tagged with the sequence number it was written at.
type Record struct {
	Key     []byte
	Value   []byte
	Seq     uint64
	Deleted bool
}

// Size returns the encoded size in bytes of the record, as it would be
// written by EncodeRecord.
func (r *Record) Size() uint64 {
	valueLen := uint64(len(r.Value))
	if r.Deleted {
		valueLen = 0
	}
	return logStaticSize + uint64(len(r.Key)) + valueLen
}

// EncodeRecord validates r and writes its wire form to w:
//
//	checksum(4) | seq(8) | key_len(2) | value_len(4) | key | value
//
// The checksum covers every byte after the checksum field itself, i.e.
// seq, key_len, value_len, key, and value (value omitted for tombstones).
func EncodeRecord(w io.Writer, r *Record) error {
	if len(r.Key) == 0 || len(r.Key) > MaxKeySize {
		return ErrInvalidKeySize
	}
	if !r.Deleted && uint64(len(r.Value)) > uint64(MaxValueSize) {
		return ErrInvalidValueSize
	}

	var header [logStaticSize - 4]byte
	encoding.EncodeFixed64(header[0:8], r.Seq)
	encoding.EncodeFixed16(header[8:10], uint16(len(r.Key)))
	if r.Deleted {
		encoding.EncodeFixed32(header[10:14], Tombstone)
	} else {
		encoding.EncodeFixed32(header[10:14], uint32(len(r.Value)))
	}

	h := checksum.NewHasher()
	_, _ = h.Write(header[:])
	_, _ = h.Write(r.Key)
	if !r.Deleted {
		_, _ = h.Write(r.Value)
	}
	sum := h.Sum32()

	var sumBuf [4]byte
	encoding.EncodeFixed32(sumBuf[:], sum)

	if _, err := w.Write(sumBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(r.Key); err != nil {
		return err
	}
	if !r.Deleted {
		if _, err := w.Write(r.Value); err != nil {
			return err
		}
	}
	return nil
}

// DecodeRecord reads and validates one log record from r.
//
// A read that fails because the source is exhausted exactly at a record
// boundary returns io.EOF unchanged, so callers scanning a file can detect
// clean end-of-stream and distinguish it from a torn trailing record
// (which returns ErrShortRead).
func DecodeRecord(r io.Reader) (*Record, error) {
	var header [logStaticSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrShortRead
		}
		return nil, err
	}

	expectedSum := encoding.DecodeFixed32(header[0:4])
	seq := encoding.DecodeFixed64(header[4:12])
	keyLen := encoding.DecodeFixed16(header[12:14])
	valueLen := encoding.DecodeFixed32(header[14:18])
	deleted := valueLen == Tombstone

	if keyLen == 0 {
		return nil, ErrInvalidKeySize
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, ErrShortRead
	}

	var value []byte
	if !deleted {
		value = make([]byte, valueLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, ErrShortRead
		}
	}

	h := checksum.NewHasher()
	_, _ = h.Write(header[4:])
	_, _ = h.Write(key)
	_, _ = h.Write(value)
	found := h.Sum32()

	if found != expectedSum {
		return nil, &ChecksumError{Expected: expectedSum, Found: found}
	}

	return &Record{Key: key, Value: value, Seq: seq, Deleted: deleted}, nil
}

// Hint is a decoded compaction hint: everything the index needs to
// reconstruct an index entry without reading the data file.
type Hint struct {
	Key       []byte
	LogPos    uint64
	ValueSize uint32
	Seq       uint64
	Deleted   bool
}

// hintStaticSize is the fixed-width header preceding a hint's key bytes:
// seq(8) + key_len(2) + value_len(4) + log_pos(8).
const hintStaticSize = 8 + 2 + 4 + 8

// LogSize returns the size in bytes of the log record this hint describes.
func (h *Hint) LogSize() uint64 {
	valueSize := uint64(h.ValueSize)
	if h.Deleted {
		valueSize = 0
	}
	return logStaticSize + uint64(len(h.Key)) + valueSize
}

// EncodeHint writes h's wire form to w:
//
//	seq(8) | key_len(2) | value_len(4 or tombstone) | log_pos(8) | key
//
// Unlike EncodeRecord, a hint carries no per-record checksum of its own;
// the hint *file* as a whole is protected by a single trailing checksum
// (see EncodeTrailer).
func EncodeHint(w io.Writer, h *Hint) error {
	if len(h.Key) == 0 || len(h.Key) > MaxKeySize {
		return ErrInvalidKeySize
	}

	var buf [hintStaticSize]byte
	encoding.EncodeFixed64(buf[0:8], h.Seq)
	encoding.EncodeFixed16(buf[8:10], uint16(len(h.Key)))
	if h.Deleted {
		encoding.EncodeFixed32(buf[10:14], Tombstone)
	} else {
		encoding.EncodeFixed32(buf[10:14], h.ValueSize)
	}
	encoding.EncodeFixed64(buf[14:22], h.LogPos)

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := w.Write(h.Key)
	return err
}

// DecodeHint reads one compaction hint from r.
func DecodeHint(r io.Reader) (*Hint, error) {
	var buf [hintStaticSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrShortRead
		}
		return nil, err
	}

	seq := encoding.DecodeFixed64(buf[0:8])
	keyLen := encoding.DecodeFixed16(buf[8:10])
	valueLen := encoding.DecodeFixed32(buf[10:14])
	logPos := encoding.DecodeFixed64(buf[14:22])
	deleted := valueLen == Tombstone

	if keyLen == 0 {
		return nil, ErrInvalidKeySize
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, ErrShortRead
	}

	valueSize := valueLen
	if deleted {
		valueSize = 0
	}

	return &Hint{Key: key, LogPos: logPos, ValueSize: valueSize, Seq: seq, Deleted: deleted}, nil
}

// TrailerSize is the width of a hint file's trailing checksum.
const TrailerSize = 4

// EncodeTrailer writes the 4-byte trailing checksum of a hint file's body
// to w.
func EncodeTrailer(w io.Writer, bodyChecksum uint32) error {
	var buf [TrailerSize]byte
	encoding.EncodeFixed32(buf[:], bodyChecksum)
	_, err := w.Write(buf[:])
	return err
}

// DecodeTrailer reads a hint file's 4-byte trailing checksum from r.
func DecodeTrailer(r io.Reader) (uint32, error) {
	var buf [TrailerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, ErrShortRead
		}
		return 0, err
	}
	return encoding.DecodeFixed32(buf[:]), nil
}
