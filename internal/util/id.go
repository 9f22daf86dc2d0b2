package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random UUID string, the primary key format of every table.
func NewID() string {
	return uuid.NewString()
}

// NewSecret returns a 32-byte hex token for refresh sessions, email
// verification and password resets.
func NewSecret() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func IsUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil && len(value) == 36
}
