// Package auth hashes passwords and issues bearer tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltBytes = 16
	keyBytes  = 32
)

// ErrMalformedHash is returned for stored hashes in neither supported format.
var ErrMalformedHash = errors.New("auth: malformed password hash")

// Hasher produces salt:hex(pbkdf2-sha256) hashes and verifies both those and
// legacy bcrypt hashes.
type Hasher struct {
	Iterations int
}

// NewHasher returns a Hasher; iterations below 1000 fall back to 100000.
func NewHasher(iterations int) Hasher {
	if iterations < 1000 {
		iterations = 100000
	}
	return Hasher{Iterations: iterations}
}

// Hash derives a fresh salted hash of password.
func (h Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: salt: %w", err)
	}
	s := hex.EncodeToString(salt)
	return s + ":" + h.derive(password, s), nil
}

func (h Hasher) derive(password, salt string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), h.Iterations, keyBytes, sha256.New))
}

// Verify reports whether password matches stored.
func (h Hasher) Verify(password, stored string) (bool, error) {
	if isBcrypt(stored) {
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
		return true, nil
	}
	salt, sum, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || sum == "" {
		return false, ErrMalformedHash
	}
	want := h.derive(password, salt)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sum)) == 1, nil
}

// NeedsRehash reports whether stored is in the legacy bcrypt format.
func (h Hasher) NeedsRehash(stored string) bool { return isBcrypt(stored) }

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
