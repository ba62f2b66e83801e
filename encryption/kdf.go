package encryption

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// fieldSaltLen per field KDF salt length
	fieldSaltLen = 16
	// cbcKeyLen AES-256 key length
	cbcKeyLen = 32
)

// Argon2Params Argon2id cost parameters
type Argon2Params struct {
	// Time number of passes
	Time uint32 `validate:"gte=1"`
	// MemoryKiB memory cost in KiB
	MemoryKiB uint32 `validate:"gte=1024"`
	// Threads degree of parallelism
	Threads uint8 `validate:"gte=1"`
}

// DefaultArgon2Params the default Argon2id parameters
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

// deriveCBCKey derive the "v2" AES key from the passphrase
func deriveCBCKey(passphrase []byte, salt []byte, iterations int) []byte {
	return pbkdf2.Key(passphrase, salt, iterations, cbcKeyLen, sha256.New)
}

// deriveAEADKey derive the "v3" AEAD key from the passphrase
func deriveAEADKey(passphrase []byte, salt []byte, params Argon2Params, keyLen int) []byte {
	return argon2.IDKey(
		passphrase, salt, params.Time, params.MemoryKiB, params.Threads, uint32(keyLen),
	)
}
