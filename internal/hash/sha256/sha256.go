// Package sha256 provides row fingerprinting for best-effort dedup.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint joins the key parts with a separator that cannot appear in
// upstream identifiers and returns a hex SHA-256 digest. The same natural
// key always fingerprints to the same row_key across runs.
func Fingerprint(parts ...string) string {
	joined := strings.Join(parts, "\x1f")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
