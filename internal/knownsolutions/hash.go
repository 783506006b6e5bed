package knownsolutions

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ProblemHash normalises problem text (trim, lowercase, collapse internal
// whitespace) and returns its SHA-256 hex digest, so two phrasings of the
// same problem ("Docker won't start" vs "docker   won't start") pin to the
// same known solution.
func ProblemHash(text string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	normalized := strings.Join(fields, " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
