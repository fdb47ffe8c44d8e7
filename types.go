package tokenauth

import (
	"context"
	"time"
)

// Identity is what an [AuthenticationProvider] resolves a credential pair to.
type Identity struct {
	Username string
	Roles    []string
}

// AuthenticationProvider checks a username and password against the
// credential store. Implementations return an error wrapping
// [ErrBadCredentials] for unknown users and wrong passwords alike; any other
// error is treated as a backend failure.
//
//	Docs: provider.StaticProvider, provider.SQLProvider
type AuthenticationProvider interface {
	Authenticate(ctx context.Context, username, password string) (Identity, error)
}

// ProviderFunc adapts a function to [AuthenticationProvider].
type ProviderFunc func(ctx context.Context, username, password string) (Identity, error)

func (f ProviderFunc) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	return f(ctx, username, password)
}

// Profile is the display data returned by GET /api/auth/me when the provider
// can supply it.
type Profile struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// ProfileLookup is optionally implemented by an [AuthenticationProvider].
type ProfileLookup interface {
	LookupProfile(ctx context.Context, username string) (Profile, error)
}

// Principal is the identity attached to one request after its access token
// verified. It is rebuilt from claims on every request and never stored.
type Principal struct {
	Username    string
	Authorities []string
	SessionID   string
	ExpiresAt   time.Time
}

// HasAuthority reports whether p carries authority.
func (p *Principal) HasAuthority(authority string) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// Require returns nil when p holds at least one of authorities,
// [ErrUnauthorized] when p is nil and [ErrPermissionDenied] otherwise.
func (p *Principal) Require(authorities ...string) error {
	if p == nil {
		return ErrUnauthorized
	}
	for _, a := range authorities {
		if p.HasAuthority(a) {
			return nil
		}
	}
	return ErrPermissionDenied
}

// Clock supplies the current time. The engine reads time only through it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to [Clock].
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// TokenPair is the credential set handed to a client by login and refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// RefreshRequest carries what the client presented to POST /api/auth/refresh.
// SessionID and RefreshToken come from cookies; when SessionID is empty the
// session is recovered from AccessToken, which may be expired but must carry a
// valid signature.
type RefreshRequest struct {
	SessionID    string
	RefreshToken string
	AccessToken  string
}

// LogoutRequest identifies the session to end. Any subset of fields may be
// set; the engine resolves what it can and otherwise does nothing.
type LogoutRequest struct {
	SessionID    string
	RefreshToken string
	AccessToken  string
	Principal    *Principal
}
