package tier2

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHash returns the lowercase hex SHA-256 of s.
func ComputeHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// CacheKey derives the cache input_hash from the spec and briefing hashes.
func CacheKey(specHash, briefHash string) string {
	return ComputeHash(specHash + briefHash)
}
