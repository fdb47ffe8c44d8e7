package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	refreshSecretSize = 32
	maxUsernameBytes  = 256
	handleSeparator   = "."
)

var errInvalidRefreshToken = errors.New("invalid refresh token")

// NewSessionID mints the random session identifier carried in the SESSION cookie.
func NewSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidSessionID reports whether s has the shape NewSessionID produces.
func ValidSessionID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken builds the opaque handle handed to clients:
// base64url(username) "." base64url(secret). The username part only locates
// the store entry; possession of the secret is what the store checks.
func EncodeRefreshToken(username string, secret [refreshSecretSize]byte) (string, error) {
	if username == "" || len(username) > maxUsernameBytes {
		return "", errors.New("invalid username for refresh token")
	}

	var b strings.Builder
	b.Grow(base64.RawURLEncoding.EncodedLen(len(username)) + 1 + base64.RawURLEncoding.EncodedLen(refreshSecretSize))
	b.WriteString(base64.RawURLEncoding.EncodeToString([]byte(username)))
	b.WriteString(handleSeparator)
	b.WriteString(base64.RawURLEncoding.EncodeToString(secret[:]))
	return b.String(), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	userPart, secretPart, ok := strings.Cut(token, handleSeparator)
	if !ok || userPart == "" || secretPart == "" {
		return "", secret, errInvalidRefreshToken
	}

	username, err := base64.RawURLEncoding.DecodeString(userPart)
	if err != nil || len(username) == 0 || len(username) > maxUsernameBytes {
		return "", secret, errInvalidRefreshToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(secretPart)
	if err != nil || len(raw) != refreshSecretSize {
		return "", secret, errInvalidRefreshToken
	}
	copy(secret[:], raw)

	return string(username), secret, nil
}
