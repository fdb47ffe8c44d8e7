package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bigtreetc/tokenauth/internal/rate"
	"github.com/bigtreetc/tokenauth/jwt"
	"github.com/bigtreetc/tokenauth/session"
	"github.com/rs/zerolog"
)

// LoginResult is the flow-local login response shape.
type LoginResult struct {
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

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	SessionCreated   int
	StoreError       int
}

type LoginLimiter interface {
	CheckLogin(ctx context.Context, username, ip string) error
	RecordFailure(ctx context.Context, username, ip string) error
	Reset(ctx context.Context, username string) error
}

type LoginSessionStore interface {
	Create(ctx context.Context, k session.Key, roles []string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, k session.Key)
}

type AccessIssuer interface {
	Issue(username string, roles []string, sessionID string) (string, *jwt.Claims, error)
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	// Authenticate resolves credentials to a canonical username and roles.
	Authenticate        func(ctx context.Context, username, password string) (string, []string, error)
	BadCredentials      error
	ClientIPFromContext func(context.Context) string
	NewSessionID        func() (string, error)
	Now                 func() time.Time
	RefreshTTL          time.Duration

	Limiter  LoginLimiter
	Sessions LoginSessionStore
	Tokens   AccessIssuer

	Logger  zerolog.Logger
	Inc     func(int)
	Metrics LoginMetrics
}

// RunLogin authenticates credentials and, on success, creates a session
// entry and signs an access token. No store entry is written on failure.
func RunLogin(ctx context.Context, username, password string, deps LoginDeps) LoginResult {
	res := runLogin(ctx, username, password, deps)
	if res.Failure == FailureNone {
		deps.inc(deps.Metrics.LoginSuccess)
	} else {
		deps.inc(deps.Metrics.LoginFailure)
	}
	return res
}

func runLogin(ctx context.Context, username, password string, deps LoginDeps) LoginResult {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{Failure: FailureMalformedRequest, Err: errors.New("username and password are required")}
	}

	ip := ""
	if deps.ClientIPFromContext != nil {
		ip = deps.ClientIPFromContext(ctx)
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckLogin(ctx, username, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				deps.inc(deps.Metrics.LoginRateLimited)
				return LoginResult{Failure: FailureRateLimited, Err: err}
			}
			deps.inc(deps.Metrics.StoreError)
			return LoginResult{Failure: FailureStoreUnavailable, Err: err}
		}
	}

	canonical, roles, err := deps.Authenticate(ctx, username, password)
	if err != nil {
		if deps.BadCredentials == nil || !errors.Is(err, deps.BadCredentials) {
			// Backend failures still look like bad credentials to the client.
			deps.Logger.Error().Err(err).Msg("authentication provider failed")
			return LoginResult{Failure: FailureBadCredentials, Err: err}
		}
		if deps.Limiter != nil {
			if limErr := deps.Limiter.RecordFailure(ctx, username, ip); limErr != nil {
				deps.Logger.Warn().Err(limErr).Msg("login throttle update failed")
			}
		}
		return LoginResult{Failure: FailureBadCredentials, Err: err}
	}
	if canonical == "" {
		canonical = username
	}

	sid, err := deps.NewSessionID()
	if err != nil {
		return LoginResult{Failure: FailureStoreUnavailable, Err: err}
	}
	key := session.Key{Username: canonical, SessionID: sid}

	refresh, err := deps.Sessions.Create(ctx, key, roles, deps.RefreshTTL)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			deps.inc(deps.Metrics.StoreError)
			return LoginResult{Failure: FailureStoreUnavailable, Err: err}
		}
		return LoginResult{Failure: FailureMalformedRequest, Err: err}
	}
	deps.inc(deps.Metrics.SessionCreated)

	access, claims, err := deps.Tokens.Issue(canonical, roles, sid)
	if err != nil {
		deps.Sessions.Delete(ctx, key)
		return LoginResult{Failure: FailureMalformedRequest, Err: err}
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.Reset(ctx, username); err != nil {
			deps.Logger.Warn().Err(err).Msg("login throttle reset failed")
		}
	}

	return LoginResult{
		Username:         canonical,
		Roles:            claims.Roles,
		SessionID:        sid,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: deps.Now().Add(deps.RefreshTTL),
	}
}

func (d LoginDeps) inc(id int) {
	if d.Inc != nil {
		d.Inc(id)
	}
}
