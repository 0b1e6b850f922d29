package entity

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// Checksum returns the BLAKE2b-256 digest of the canonical JSON encoding of
// values. encoding/json sorts map keys, so equal field sets hash equally.
func Checksum(values map[string]any) (string, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
