package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID returns a 32-character random hex identifier. Used for video output
// ids, track ids and upload ids alike.
func NewID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
