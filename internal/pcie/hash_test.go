package pcie

import "testing"

func TestHashContent_DeterministicAndSensitiveToContent(t *testing.T) {
	a := HashContent("hello")
	b := HashContent("hello")
	if a != b {
		t.Fatalf("HashContent is not deterministic: %x != %x", a, b)
	}

	c := HashContent("hello!")
	if a == c {
		t.Fatalf("HashContent did not change for different content")
	}
}

func TestHashContent_EmptyIsNotZeroHash(t *testing.T) {
	// The digest of the empty string is a well-defined non-zero SHA-256
	// value, distinct from ZeroHash (which means "never materialized").
	if HashContent("") == ZeroHash {
		t.Fatalf("HashContent(\"\") collided with ZeroHash")
	}
}
