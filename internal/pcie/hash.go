package pcie

import "crypto/sha256"

// Hash is the 256-bit content digest used to detect no-op panel refreshes.
// It is a correctness primitive, not a security boundary: collisions would
// surface as a missed refresh, which at the 256-bit tier is not a practical
// concern even for multi-megabyte command logs and file contents.
type Hash [32]byte

// ZeroHash is the digest of "no content has ever been materialized".
var ZeroHash Hash

// HashContent returns the digest of content.
func HashContent(content string) Hash {
	return Hash(sha256.Sum256([]byte(content)))
}
