package session

import (
	"errors"
	"strings"
	"time"

	"github.com/bigtreetc/tokenauth/internal"
)

// ErrInvalidKey is returned when a [Key] cannot address a store entry.
var ErrInvalidKey = errors.New("invalid session key")

// Key addresses one login session: the same user may hold many keys,
// one per device or browser.
type Key struct {
	Username  string
	SessionID string
}

// Validate reports whether k can be turned into a store key.
// The session id must be a canonical UUID, so the last ':' in the
// stored key always separates it from the username.
func (k Key) Validate() error {
	if k.Username == "" || strings.ContainsAny(k.Username, "\r\n") {
		return ErrInvalidKey
	}
	if !internal.ValidSessionID(k.SessionID) {
		return ErrInvalidKey
	}
	return nil
}

func (k Key) String() string {
	return k.Username + ":" + k.SessionID
}

// Record is the decoded content of a store entry.
type Record struct {
	Key       Key
	Roles     []string
	CreatedAt time.Time
	Rotations int64
	TTL       time.Duration
}
