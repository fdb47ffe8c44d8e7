package flows

import (
	"context"
	"errors"
	"time"

	"github.com/bigtreetc/tokenauth/jwt"
	"github.com/bigtreetc/tokenauth/session"
	"github.com/rs/zerolog"
)

// RefreshRequest is the flow-local refresh input.
type RefreshRequest struct {
	SessionID    string
	RefreshToken string
	AccessToken  string
}

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure          FailureKind
	Err              error
	Username         string
	Roles            []string
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshMetrics carries metric IDs needed by the refresh flow.
type RefreshMetrics struct {
	RefreshSuccess  int
	RefreshFailure  int
	RefreshMismatch int
	StoreError      int
}

type RefreshSessionStore interface {
	CompareAndRotate(ctx context.Context, k session.Key, presented string, ttl time.Duration) (string, []string, error)
}

type RefreshTokens interface {
	Issue(username string, roles []string, sessionID string) (string, *jwt.Claims, error)
	VerifyIgnoringExpiry(tokenStr string) (*jwt.Claims, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	DecodeRefreshUsername func(string) (string, error)
	Now                   func() time.Time
	RefreshTTL            time.Duration

	Sessions RefreshSessionStore
	Tokens   RefreshTokens

	Logger  zerolog.Logger
	Inc     func(int)
	Metrics RefreshMetrics
}

// RunRefresh verifies the presented refresh token and rotates it in one
// atomic store call, then signs a new access token with the roles captured
// at login.
func RunRefresh(ctx context.Context, req RefreshRequest, deps RefreshDeps) RefreshResult {
	res := runRefresh(ctx, req, deps)
	switch res.Failure {
	case FailureNone:
		deps.inc(deps.Metrics.RefreshSuccess)
	case FailureRefreshMismatch:
		deps.inc(deps.Metrics.RefreshMismatch)
		deps.inc(deps.Metrics.RefreshFailure)
	case FailureStoreUnavailable:
		deps.inc(deps.Metrics.StoreError)
		deps.inc(deps.Metrics.RefreshFailure)
	default:
		deps.inc(deps.Metrics.RefreshFailure)
	}
	if res.Failure != FailureNone {
		deps.Logger.Debug().Err(res.Err).Str("failure", res.Failure.String()).Msg("refresh rejected")
	}
	return res
}

func runRefresh(ctx context.Context, req RefreshRequest, deps RefreshDeps) RefreshResult {
	if req.RefreshToken == "" {
		return RefreshResult{Failure: FailureMalformedRequest, Err: errors.New("missing refresh token")}
	}

	username, err := deps.DecodeRefreshUsername(req.RefreshToken)
	if err != nil {
		return RefreshResult{Failure: FailureTokenMalformed, Err: err}
	}

	sid := req.SessionID
	if sid == "" {
		if req.AccessToken == "" {
			return RefreshResult{Failure: FailureMalformedRequest, Err: errors.New("missing session id")}
		}
		claims, err := deps.Tokens.VerifyIgnoringExpiry(req.AccessToken)
		if err != nil {
			return RefreshResult{Failure: ClassifyTokenError(err), Err: err}
		}
		if claims.Username != username {
			return RefreshResult{Failure: FailureRefreshMismatch, Err: errors.New("access token belongs to another user")}
		}
		sid = claims.SessionID
	}

	key := session.Key{Username: username, SessionID: sid}
	if err := key.Validate(); err != nil {
		return RefreshResult{Failure: FailureMalformedRequest, Err: err}
	}

	next, roles, err := deps.Sessions.CompareAndRotate(ctx, key, req.RefreshToken, deps.RefreshTTL)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshMismatch), errors.Is(err, session.ErrSessionNotFound):
			return RefreshResult{Failure: FailureRefreshMismatch, Err: err, Username: username, SessionID: sid}
		case errors.Is(err, session.ErrRedisUnavailable):
			return RefreshResult{Failure: FailureStoreUnavailable, Err: err, Username: username, SessionID: sid}
		default:
			return RefreshResult{Failure: FailureMalformedRequest, Err: err, Username: username, SessionID: sid}
		}
	}

	access, claims, err := deps.Tokens.Issue(username, roles, sid)
	if err != nil {
		deps.Logger.Error().Err(err).Msg("access token issue failed after rotation")
		return RefreshResult{Failure: FailureTokenMalformed, Err: err, Username: username, SessionID: sid}
	}

	return RefreshResult{
		Username:         username,
		Roles:            claims.Roles,
		SessionID:        sid,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     next,
		RefreshExpiresAt: deps.Now().Add(deps.RefreshTTL),
	}
}

func (d RefreshDeps) inc(id int) {
	if d.Inc != nil {
		d.Inc(id)
	}
}
