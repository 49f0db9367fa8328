package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewConnID returns an opaque, unguessable connection identifier.
func NewConnID() string {
	return uuid.NewString()
}

// NewRoomToken returns a single-use join token. Tokens gate room admission,
// so they must come from a cryptographically strong source.
func NewRoomToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate join token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
