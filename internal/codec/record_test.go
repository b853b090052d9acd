package codec

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	tests := []*Record{
		{Key: []byte("k"), Value: []byte("v"), Seq: 1},
		{Key: []byte("hello"), Value: []byte(""), Seq: 42},
		{Key: []byte("deleted-key"), Seq: 7, Deleted: true},
		{Key: bytes.Repeat([]byte{0xAB}, 1000), Value: bytes.Repeat([]byte{0xCD}, 4096), Seq: 99999},
	}

	for _, want := range tests {
		var buf bytes.Buffer
		if err := EncodeRecord(&buf, want); err != nil {
			t.Fatalf("EncodeRecord: %v", err)
		}

		got, err := DecodeRecord(&buf)
		if err != nil {
			t.Fatalf("DecodeRecord: %v", err)
		}

		if got.Seq != want.Seq || got.Deleted != want.Deleted {
			t.Errorf("seq/deleted mismatch: got %+v, want %+v", got, want)
		}
		if !bytes.Equal(got.Key, want.Key) {
			t.Errorf("key mismatch: got %q, want %q", got.Key, want.Key)
		}
		if !want.Deleted && !bytes.Equal(got.Value, want.Value) {
			t.Errorf("value mismatch: got %q, want %q", got.Value, want.Value)
		}
	}
}

func TestEncodeRecordInvalidKeySize(t *testing.T) {
	var buf bytes.Buffer
	err := EncodeRecord(&buf, &Record{Key: nil, Value: []byte("v")})
	if err != ErrInvalidKeySize {
		t.Errorf("err = %v, want ErrInvalidKeySize", err)
	}
}

func TestEncodeRecordTombstoneSkipsValueSizeCheck(t *testing.T) {
	var buf bytes.Buffer
	huge := make([]byte, 0) // can't actually allocate MaxValueSize+1 in a test; exercise the check directly
	_ = huge
	r := &Record{Key: []byte("k"), Value: nil}
	// Simulate an oversized value by constructing a Record whose Value length
	// exceeds MaxValueSize is impractical to allocate; instead assert the
	// boundary check logic via a deleted-tombstone bypass (no value bytes
	// are checked when Deleted is set).
	r.Deleted = true
	if err := EncodeRecord(&buf, r); err != nil {
		t.Errorf("tombstone record should skip value-size check, got %v", err)
	}
}

func TestDecodeRecordChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeRecord(&buf, &Record{Key: []byte("k"), Value: []byte("v"), Seq: 1}); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] ^= 0xFF

	_, err := DecodeRecord(bytes.NewReader(corrupt))
	var cerr *ChecksumError
	if err == nil {
		t.Fatal("expected checksum error, got nil")
	}
	if !asChecksumError(err, &cerr) {
		t.Errorf("err = %v, want *ChecksumError", err)
	}
}

func asChecksumError(err error, target **ChecksumError) bool {
	if ce, ok := err.(*ChecksumError); ok {
		*target = ce
		return true
	}
	return false
}

func TestDecodeRecordShortRead(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeRecord(&buf, &Record{Key: []byte("key"), Value: []byte("value"), Seq: 1}); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()-2]
	_, err := DecodeRecord(bytes.NewReader(truncated))
	if err != ErrShortRead {
		t.Errorf("err = %v, want ErrShortRead", err)
	}
}

func TestDecodeRecordCleanEOF(t *testing.T) {
	_, err := DecodeRecord(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestEncodeDecodeHintRoundTrip(t *testing.T) {
	tests := []*Hint{
		{Key: []byte("k"), LogPos: 128, ValueSize: 10, Seq: 1},
		{Key: []byte("deleted"), LogPos: 256, Seq: 2, Deleted: true},
	}

	for _, want := range tests {
		var buf bytes.Buffer
		if err := EncodeHint(&buf, want); err != nil {
			t.Fatalf("EncodeHint: %v", err)
		}

		got, err := DecodeHint(&buf)
		if err != nil {
			t.Fatalf("DecodeHint: %v", err)
		}

		if got.Seq != want.Seq || got.LogPos != want.LogPos || got.Deleted != want.Deleted {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if !bytes.Equal(got.Key, want.Key) {
			t.Errorf("key mismatch: got %q, want %q", got.Key, want.Key)
		}
		if !want.Deleted && got.ValueSize != want.ValueSize {
			t.Errorf("value size mismatch: got %d, want %d", got.ValueSize, want.ValueSize)
		}
	}
}

func TestHintLogSizeMatchesRecordSize(t *testing.T) {
	rec := &Record{Key: []byte("abc"), Value: []byte("defgh"), Seq: 5}
	hint := &Hint{Key: rec.Key, ValueSize: uint32(len(rec.Value)), Seq: rec.Seq}

	if hint.LogSize() != rec.Size() {
		t.Errorf("hint.LogSize() = %d, want %d (record.Size())", hint.LogSize(), rec.Size())
	}
}

func TestTrailerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeTrailer(&buf, 0xDEADBEEF); err != nil {
		t.Fatalf("EncodeTrailer: %v", err)
	}

	got, err := DecodeTrailer(&buf)
	if err != nil {
		t.Fatalf("DecodeTrailer: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("got %08x, want deadbeef", got)
	}
}
