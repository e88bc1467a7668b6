package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

// idCounter backs __generate_id, a host capability used by contracts
// that need a fresh, process-unique identifier without committing to a
// specific encoding (e.g. shared-account's per-account ids).
var idCounter uint64

// Crypto is the host "crypto" capability: hashing and unique id
// generation available to every contract call.
type Crypto struct{}

// SHA256 returns the hex-encoded SHA-256 digest of data.
func (Crypto) SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SaltedHash returns the hex-encoded BLAKE2b-256 digest of data keyed by
// salt, used where a contract needs a keyed hash rather than plain
// SHA-256 (e.g. commitment schemes).
func (Crypto) SaltedHash(data, salt []byte) (string, error) {
	h, err := blake2b.New256(salt)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GenerateID returns a fresh process-unique identifier, monotonically
// increasing within this process's lifetime.
func (Crypto) GenerateID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}
