package flows

import (
	"context"

	"github.com/bigtreetc/tokenauth/jwt"
	"github.com/bigtreetc/tokenauth/session"
)

// LogoutRequest lists everything the caller could present to identify a session.
type LogoutRequest struct {
	SessionID    string
	RefreshToken string
	AccessToken  string
	// Username and PrincipalSessionID come from an already verified access token.
	Username           string
	PrincipalSessionID string
}

// LogoutResult reports which session, if any, was removed.
type LogoutResult struct {
	Resolved bool
	Key      session.Key
}

type LogoutSessionStore interface {
	Verify(ctx context.Context, k session.Key, presented string) bool
	Delete(ctx context.Context, k session.Key)
}

type LogoutTokens interface {
	Verify(tokenStr string) (*jwt.Claims, error)
	VerifyIgnoringExpiry(tokenStr string) (*jwt.Claims, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	DecodeRefreshUsername func(string) (string, error)
	Tokens                LogoutTokens
	Sessions              LogoutSessionStore
	Inc                   func(int)
	MetricLogout          int
}

// RunLogout resolves the session from whatever the client sent and deletes it.
// It never fails: an unresolvable request is a no-op.
func RunLogout(ctx context.Context, req LogoutRequest, deps LogoutDeps) LogoutResult {
	key, ok := resolveLogoutKey(ctx, req, deps)
	if !ok {
		return LogoutResult{}
	}

	deps.Sessions.Delete(ctx, key)
	if deps.Inc != nil {
		deps.Inc(deps.MetricLogout)
	}
	return LogoutResult{Resolved: true, Key: key}
}

// resolveLogoutKey only names a session the caller holds: a verified
// principal, a refresh token matching the stored hash, or an unexpired
// access token.
func resolveLogoutKey(ctx context.Context, req LogoutRequest, deps LogoutDeps) (session.Key, bool) {
	if req.Username != "" {
		key := session.Key{Username: req.Username, SessionID: req.SessionID}
		if key.SessionID == "" {
			key.SessionID = req.PrincipalSessionID
		}
		return key, key.Validate() == nil
	}

	if req.RefreshToken != "" {
		if key, ok := refreshLogoutKey(ctx, req, deps); ok {
			return key, true
		}
	}

	if req.AccessToken != "" {
		if claims, err := deps.Tokens.Verify(req.AccessToken); err == nil {
			key := session.Key{Username: claims.Username, SessionID: claims.SessionID}
			return key, key.Validate() == nil
		}
	}

	return session.Key{}, false
}

// refreshLogoutKey accepts an expired access token as the session id source
// because the refresh secret is what proves possession.
func refreshLogoutKey(ctx context.Context, req LogoutRequest, deps LogoutDeps) (session.Key, bool) {
	username, err := deps.DecodeRefreshUsername(req.RefreshToken)
	if err != nil {
		return session.Key{}, false
	}

	key := session.Key{Username: username, SessionID: req.SessionID}
	if key.SessionID == "" && req.AccessToken != "" {
		if claims, err := deps.Tokens.VerifyIgnoringExpiry(req.AccessToken); err == nil && claims.Username == username {
			key.SessionID = claims.SessionID
		}
	}

	if key.Validate() != nil || !deps.Sessions.Verify(ctx, key, req.RefreshToken) {
		return session.Key{}, false
	}
	return key, true
}
