// Package checksum computes content digests used as document ETags and
// graph version fingerprints.
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

// SumString is Sum for strings.
func SumString(s string) string {
	return Sum([]byte(s))
}

// SumJSON returns the digest of the JSON encoding of v along with the
// encoding itself.
func SumJSON(v any) (string, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("checksum: encode: %w", err)
	}
	return Sum(data), data, nil
}
