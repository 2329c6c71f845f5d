// Package auth guards the operator endpoints with a bearer token. The
// configured token is never held in memory in plaintext longer than startup;
// requests are checked against a PBKDF2 digest.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenHashIterations = 210000
	tokenHashKeyLength  = 32
	tokenHashSaltLength = 16
)

// ErrInvalidToken is returned when a presented token does not match.
var ErrInvalidToken = errors.New("invalid token")

// HashToken derives a self-describing PBKDF2 digest for a bearer token.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("token is required")
	}
	salt := make([]byte, tokenHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(token), salt, tokenHashIterations, tokenHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", tokenHashIterations, encodedSalt, encodedKey), nil
}

// VerifyToken checks a candidate against an encoded digest in constant time.
func VerifyToken(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify token: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify token: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify token: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify token: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify token: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Guard authorizes operator requests. A guard built from an empty token is
// disabled and lets every request through, which is the expected mode for
// single-user deployments on a private network.
type Guard struct {
	hash string
}

// NewGuard hashes the configured token. An empty token yields a disabled
// guard.
func NewGuard(token string) (*Guard, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return &Guard{}, nil
	}
	hash, err := HashToken(token)
	if err != nil {
		return nil, err
	}
	return &Guard{hash: hash}, nil
}

// Enabled reports whether requests must carry a token.
func (g *Guard) Enabled() bool {
	return g != nil && g.hash != ""
}

// Authorize validates a bearer token value.
func (g *Guard) Authorize(candidate string) error {
	if !g.Enabled() {
		return nil
	}
	if candidate == "" {
		return ErrInvalidToken
	}
	return VerifyToken(g.hash, candidate)
}

// AuthorizeRequest extracts the token from the Authorization header, falling
// back to the "token" query parameter for clients that cannot set headers,
// such as EventSource.
func (g *Guard) AuthorizeRequest(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}
	return g.Authorize(RequestToken(r))
}

// RequestToken returns the bearer token carried by a request, or "".
func RequestToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
