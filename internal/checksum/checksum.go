// Package checksum computes content checksums and deterministic integrity digests.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Digest returns the hex-encoded SHA-256 digest of the canonical JSON
// encoding of fields, taken as an ordered array. Identical fields always
// produce an identical digest; no salt is involved.
func Digest(fields ...any) (string, error) {
	if fields == nil {
		fields = []any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("checksum: encode digest fields: %w", err)
	}
	return Sum(data), nil
}
