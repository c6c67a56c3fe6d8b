// Package checksum computes an optional post-flash digest over a memory
// dump, using blake2b the way the rest of the example pack reaches for
// golang.org/x/crypto hash implementations rather than hand-rolling one.
package checksum

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Sum256 returns the hex-encoded blake2b-256 digest of data.
func Sum256(data []byte) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
