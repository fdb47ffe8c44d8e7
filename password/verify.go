package password

import (
	"errors"
	"strings"
)

// DefaultMaxPasswordBytes bounds argon2 input so hashing cost stays predictable.
const DefaultMaxPasswordBytes = 1024

var (
	ErrMalformedHash   = errors.New("malformed password hash")
	ErrUnsupportedHash = errors.New("unsupported password hash")
	ErrEmptyPassword   = errors.New("password must not be empty")
	ErrPasswordTooLong = errors.New("password too long")
)

// Hasher produces and checks encoded password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Verify checks password against an encoded hash of any supported scheme.
// argon2id PHC strings and bcrypt ($2a$, $2b$, $2y$) are recognized.
func Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		if len(password) > DefaultMaxPasswordBytes {
			return false, nil
		}
		return verifyArgon2(password, encoded)
	case isBcrypt(encoded):
		return verifyBcrypt(password, encoded)
	case encoded == "":
		return false, ErrMalformedHash
	default:
		return false, ErrUnsupportedHash
	}
}

// Supported reports whether encoded uses a scheme [Verify] understands.
func Supported(encoded string) bool {
	return strings.HasPrefix(encoded, argon2Prefix) || isBcrypt(encoded)
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func checkLength(password string, max int) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len(password) > max {
		return ErrPasswordTooLong
	}
	return nil
}
