// Package checksum computes the content hashes shared by the engine, the
// synchronizer and the validator. All hashes are BLAKE2b-256 rendered as
// lower-case hex; salted hashes use BLAKE2b's native keyed mode.
package checksum

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Sum returns the unkeyed hash of data.
func Sum(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Salted returns the hash of data keyed by salt. An empty salt is the same as
// Sum. Salts longer than the BLAKE2b key limit are hashed down first.
func Salted(data []byte, salt string) string {
	if salt == "" {
		return Sum(data)
	}
	key := []byte(salt)
	if len(key) > blake2b.Size {
		k := blake2b.Sum256(key)
		key = k[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// only possible for keys over 64 bytes, handled above
		panic("checksum: " + err.Error())
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares two hex hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
