package docregistry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// normalizeURL lowercases, strips the protocol, a leading "www.", and a
// trailing slash, so that http://Example.com/Path/ and
// https://www.example.com/Path hash identically (§4.8).
func normalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	u = strings.TrimSuffix(u, "/")
	return u
}

func urlHash(raw string) string {
	sum := sha256.Sum256([]byte(normalizeURL(raw)))
	return hex.EncodeToString(sum[:])
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
