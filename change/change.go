// Package change derives content fingerprints and decides whether content changed.
package change

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the SHA-256 hex digest of content.
// Empty input yields the digest of the empty string; callers reject empty content upstream.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// FingerprintURL is the degraded fingerprint used when content bytes are unavailable.
func FingerprintURL(rawURL string) string {
	return Fingerprint([]byte(rawURL))
}

// HasChanged compares a new fingerprint against the previous one.
// An empty previous fingerprint means there is nothing to compare against,
// which is reported as unchanged; seeding a baseline is a separate operation.
func HasChanged(current, previous string) bool {
	if previous == "" {
		return false
	}
	return current != previous
}
