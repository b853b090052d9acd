package checksum

import "testing"

func TestChecksumDeterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	a := Checksum(data)
	b := Checksum(data)
	if a != b {
		t.Fatalf("Checksum not deterministic: %x != %x", a, b)
	}
}

func TestChecksumDistinguishesInputs(t *testing.T) {
	tests := [][]byte{
		nil,
		[]byte{0},
		[]byte("a"),
		[]byte("ab"),
		[]byte("crabedb"),
	}

	seen := make(map[uint32]string)
	for _, data := range tests {
		sum := Checksum(data)
		if prev, ok := seen[sum]; ok {
			t.Fatalf("checksum collision between %q and %q", prev, data)
		}
		seen[sum] = string(data)
	}
}

func TestHasherMatchesChecksumOverConcatenation(t *testing.T) {
	parts := [][]byte{
		[]byte("hello, "),
		[]byte("world"),
		{0x01, 0x02, 0x03, 0x04},
	}

	var whole []byte
	h := NewHasher()
	for _, p := range parts {
		whole = append(whole, p...)
		if _, err := h.Write(p); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	want := Checksum(whole)
	got := h.Sum32()
	if got != want {
		t.Errorf("Hasher.Sum32() = %x, want %x", got, want)
	}
}

func TestHasherReset(t *testing.T) {
	h := NewHasher()
	_, _ = h.Write([]byte("first"))
	first := h.Sum32()

	h.Reset()
	_, _ = h.Write([]byte("first"))
	second := h.Sum32()

	if first != second {
		t.Errorf("Sum32 after Reset = %x, want %x (matching first run)", second, first)
	}
}
