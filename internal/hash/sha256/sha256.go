// Package sha256 renders hex SHA-256 digests for seed fingerprinting.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// SumHex returns the lowercase hex digest of data.
func SumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
