// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"

	"github.com/and161185/beta-sketch/internal/errs"
)

// Params holds Argon2id cost settings.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams are tuned for interactive logins on the authority.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 1, KeyLen: 32}

// Password length limits in runes.
const (
	MinPasswordLen = 6
	MaxPasswordLen = 128
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// CheckPassword enforces the account password policy.
func CheckPassword(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < MinPasswordLen:
		return fmt.Errorf("%w: password shorter than %d", errs.ErrValidation, MinPasswordLen)
	case n > MaxPasswordLen:
		return fmt.Errorf("%w: password longer than %d", errs.ErrValidation, MaxPasswordLen)
	}
	return nil
}

// Hash derives the Argon2id key of password with p.
func (p Params) Hash(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// Verify compares in constant time.
func (p Params) Verify(password, salt, expected []byte) bool {
	return subtle.ConstantTimeCompare(p.Hash(password, salt), expected) == 1
}

// HashPassword hashes with DefaultParams.
func HashPassword(password, salt []byte) []byte { return DefaultParams.Hash(password, salt) }

// VerifyPassword verifies with DefaultParams.
func VerifyPassword(password, salt, expected []byte) bool {
	return DefaultParams.Verify(password, salt, expected)
}
