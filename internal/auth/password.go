// Package auth provides room-password hashing and the random identifiers used
// for connections and single-use join tokens.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword derives a salted one-way digest of a room password. The
// plaintext must not be retained once the digest exists.
//
// bcrypt comparisons are deliberately slow; callers on a latency-sensitive
// path run hashing and verification off their event loop.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// CheckPassword reports whether password matches a digest produced by
// HashPassword.
func CheckPassword(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
