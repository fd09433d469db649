// Package sha256 computes content digests for rendered site map exports.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Digest returns the lowercase hex SHA-256 of body.
func Digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// ETag returns a strong entity tag for body.
func ETag(body string) string {
	return `"` + Digest(body) + `"`
}

// MatchesETag reports whether an If-None-Match header value names etag.
// The wildcard "*" matches anything; weak validators compare by their opaque tag.
func MatchesETag(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
