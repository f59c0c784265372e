package hipaa

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewSearchHasher_KeyValidation(t *testing.T) {
	if _, err := NewSearchHasher(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for short key, got %v", err)
	}
	if _, err := NewSearchHasher(make([]byte, 32)); err != nil {
		t.Errorf("unexpected error for 32-byte key: %v", err)
	}
}

func TestSearchHasher_Deterministic(t *testing.T) {
	h, err := NewSearchHasher(testKey(t))
	if err != nil {
		t.Fatal(err)
	}

	a := h.Hash("smith@example.com")
	b := h.Hash("smith@example.com")
	if a != b {
		t.Errorf("same input hashed to different values: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestSearchHasher_DistinctInputs(t *testing.T) {
	h, err := NewSearchHasher(testKey(t))
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]string, 10000)
	for i := 0; i < 10000; i++ {
		value := fmt.Sprintf("record-%d", i)
		digest := h.Hash(value)
		if prev, ok := seen[digest]; ok {
			t.Fatalf("collision between %q and %q", prev, value)
		}
		seen[digest] = value
	}
}

func TestSearchHasher_KeyIsolation(t *testing.T) {
	hA, err := NewSearchHasher(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	hB, err := NewSearchHasher(testKey(t))
	if err != nil {
		t.Fatal(err)
	}

	if hA.Hash("123-45-6789") == hB.Hash("123-45-6789") {
		t.Error("different deployment keys produced the same hash")
	}
}
