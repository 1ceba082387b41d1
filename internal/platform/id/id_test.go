package id

import (
	"encoding/base32"
	"strings"
	"testing"
)

func decodeID(t *testing.T, value string) []byte {
	t.Helper()
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(value))
	if err != nil {
		t.Fatalf("decode %q: %v", value, err)
	}
	return raw
}

func TestNewIDShape(t *testing.T) {
	t.Parallel()

	value, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(value) != 26 || strings.ContainsAny(value, "=ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		t.Fatalf("id %q is not 26 lowercase unpadded chars", value)
	}

	raw := decodeID(t, value)
	if len(raw) != 16 {
		t.Fatalf("decoded %d bytes, want 16", len(raw))
	}
	if raw[6]>>4 != 4 {
		t.Fatalf("uuid version = %d, want 4", raw[6]>>4)
	}
	if raw[8]&0xC0 != 0x80 {
		t.Fatalf("uuid variant = %#x, want 0x80", raw[8]&0xC0)
	}
}

func TestNewIDDoesNotRepeat(t *testing.T) {
	t.Parallel()

	const n = 128
	seen := make(map[string]bool, n)
	for range n {
		value, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if seen[value] {
			t.Fatalf("duplicate id %q", value)
		}
		seen[value] = true
	}
}
