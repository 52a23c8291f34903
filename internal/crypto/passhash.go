// Package crypto implements operator password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the salt size used by NewHash.
	SaltLen = 16

	encodedPrefix = "argon2id"
)

// ErrBadEncoding is returned by DecodeHash for strings not produced by EncodeHash.
var ErrBadEncoding = errors.New("crypto: bad password hash encoding")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// NewHash salts and hashes password, returning both.
func NewHash(password []byte) (salt, hash []byte, err error) {
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, err
	}
	return salt, HashPassword(password, salt), nil
}

// EncodeHash renders salt and hash as "argon2id$<salt>$<hash>" (raw base64) for config files.
func EncodeHash(salt, hash []byte) string {
	enc := base64.RawStdEncoding
	return encodedPrefix + "$" + enc.EncodeToString(salt) + "$" + enc.EncodeToString(hash)
}

// DecodeHash parses the EncodeHash form.
func DecodeHash(s string) (salt, hash []byte, err error) {
	parts := strings.Split(s, "$")
	if len(parts) != 3 || parts[0] != encodedPrefix {
		return nil, nil, ErrBadEncoding
	}
	enc := base64.RawStdEncoding
	if salt, err = enc.DecodeString(parts[1]); err != nil || len(salt) == 0 {
		return nil, nil, ErrBadEncoding
	}
	if hash, err = enc.DecodeString(parts[2]); err != nil || len(hash) == 0 {
		return nil, nil, ErrBadEncoding
	}
	return salt, hash, nil
}
