package crypto

import (
	"bytes"
	"strconv"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestGenerateCode_RangeAndWidth(t *testing.T) {
	t.Parallel()

	for i := 0; i < 2000; i++ {
		c, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if len(c) != 6 || c[0] == '0' {
			t.Fatalf("bad code %q", c)
		}
		n, err := strconv.Atoi(c)
		if err != nil || n < 100000 || n > 999999 {
			t.Fatalf("code out of range: %q", c)
		}
	}
}

func TestCodeHasher_HashAndVerify(t *testing.T) {
	t.Parallel()

	h, err := NewCodeHasher([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCodeHasher: %v", err)
	}

	d1 := h.Hash("+4798765432", "482913")
	d2 := h.Hash("+4798765432", "482913")
	if !bytes.Equal(d1, d2) || len(d1) != 32 {
		t.Fatalf("hash not deterministic or wrong size: %d", len(d1))
	}
	if bytes.Equal(d1, h.Hash("+4711112222", "482913")) {
		t.Fatalf("digest must bind the phone number")
	}

	if !h.Verify("+4798765432", "482913", d1) {
		t.Fatalf("Verify: expected true for correct code")
	}
	if h.Verify("+4798765432", "482914", d1) {
		t.Fatalf("Verify: expected false for wrong code")
	}

	other, err := NewCodeHasher(nil)
	if err != nil {
		t.Fatalf("NewCodeHasher(nil): %v", err)
	}
	if other.Verify("+4798765432", "482913", d1) {
		t.Fatalf("digests must depend on the key")
	}
}

func TestNewCodeHasher_RejectsBadKeys(t *testing.T) {
	t.Parallel()

	if _, err := NewCodeHasher([]byte{}); err == nil {
		t.Fatalf("want error for empty key")
	}
	if _, err := NewCodeHasher(make([]byte, 65)); err == nil {
		t.Fatalf("want error for oversized key")
	}
}
