// Package checksum computes the content digests used as page ETags and for
// catalog change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether want is the digest of data. want may be an ETag:
// a weak prefix and surrounding quotes are ignored, as is hex case.
func Matches(data []byte, want string) bool {
	want = strings.TrimPrefix(strings.TrimSpace(want), "W/")
	want = strings.Trim(want, `"`)
	return strings.EqualFold(want, Sum(data))
}
