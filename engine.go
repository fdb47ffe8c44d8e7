package tokenauth

import (
	"context"
	"errors"
	"time"

	"github.com/bigtreetc/tokenauth/internal"
	"github.com/bigtreetc/tokenauth/internal/flows"
	"github.com/bigtreetc/tokenauth/internal/rate"
	"github.com/bigtreetc/tokenauth/jwt"
	"github.com/bigtreetc/tokenauth/session"
	"github.com/rs/zerolog"
)

// Engine runs the login, refresh, verification and logout flows.
//
// Engine instances are built once by [Builder] and are safe for concurrent
// use. The only shared mutable state is the Redis-backed refresh-token store.
type Engine struct {
	config       Config
	provider     AuthenticationProvider
	jwtManager   *jwt.Manager
	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	metrics      *Metrics
	clock        Clock
	logger       zerolog.Logger

	flow flows.Service
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return DefaultConfig()
	}
	return cloneConfig(e.config)
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id int) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(MetricID(id))
}

func (e *Engine) initFlows() {
	decodeUsername := func(token string) (string, error) {
		username, _, err := internal.DecodeRefreshToken(token)
		return username, err
	}

	deps := flows.Deps{
		Login: flows.LoginDeps{
			Authenticate:        e.authenticate,
			BadCredentials:      ErrBadCredentials,
			ClientIPFromContext: clientIPFromContext,
			NewSessionID:        internal.NewSessionID,
			Now:                 e.clock.Now,
			RefreshTTL:          e.config.Refresh.TTL,
			Sessions:            e.sessionStore,
			Tokens:              e.jwtManager,
			Logger:              e.logger,
			Inc:                 e.metricInc,
			Metrics: flows.LoginMetrics{
				LoginSuccess:     int(MetricLoginSuccess),
				LoginFailure:     int(MetricLoginFailure),
				LoginRateLimited: int(MetricLoginRateLimited),
				SessionCreated:   int(MetricSessionCreated),
				StoreError:       int(MetricStoreError),
			},
		},
		Refresh: flows.RefreshDeps{
			DecodeRefreshUsername: decodeUsername,
			Now:                   e.clock.Now,
			RefreshTTL:            e.config.Refresh.TTL,
			Sessions:              e.sessionStore,
			Tokens:                e.jwtManager,
			Logger:                e.logger,
			Inc:                   e.metricInc,
			Metrics: flows.RefreshMetrics{
				RefreshSuccess:  int(MetricRefreshSuccess),
				RefreshFailure:  int(MetricRefreshFailure),
				RefreshMismatch: int(MetricRefreshMismatch),
				StoreError:      int(MetricStoreError),
			},
		},
		Verify: flows.VerifyDeps{
			Tokens:  e.jwtManager,
			Now:     time.Now,
			Observe: e.observeVerify,
		},
		Logout: flows.LogoutDeps{
			DecodeRefreshUsername: decodeUsername,
			Tokens:                e.jwtManager,
			Sessions:              e.sessionStore,
			Inc:                   e.metricInc,
			MetricLogout:          int(MetricLogout),
		},
	}
	// A nil *rate.Limiter must stay a nil interface.
	if e.rateLimiter != nil {
		deps.Login.Limiter = e.rateLimiter
	}

	e.flow = flows.New(deps)
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

func (e *Engine) authenticate(ctx context.Context, username, password string) (string, []string, error) {
	id, err := e.provider.Authenticate(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	return id.Username, id.Roles, nil
}

func (e *Engine) observeVerify(success bool, elapsed time.Duration) {
	if success {
		e.metrics.Inc(MetricVerifySuccess)
	} else {
		e.metrics.Inc(MetricVerifyFailure)
	}
	e.metrics.Observe(MetricVerifyLatency, elapsed)
}

// Login authenticates username and password through the configured provider.
// On success it creates a new independent session and returns the token pair.
// On failure no store entry exists for the attempt.
//
//	Performance: 1 provider call, 1 Redis round trip (+2 when the throttle is enabled).
func (e *Engine) Login(ctx context.Context, username, password string) LoginResult {
	if !e.ready() {
		return LoginResult{Failure: FailureStoreUnavailable, Err: ErrEngineNotReady}
	}

	res := e.flow.Login(ctx, username, password)
	if res.Failure != FailureNone {
		e.logger.Debug().Str("failure", res.Failure.String()).Msg("login rejected")
		return LoginResult{Failure: res.Failure, Err: wrapFailure(res.Failure, res.Err)}
	}

	return LoginResult{
		Tokens: TokenPair{
			AccessToken:      res.AccessToken,
			AccessExpiresAt:  res.AccessExpiresAt,
			RefreshToken:     res.RefreshToken,
			RefreshExpiresAt: res.RefreshExpiresAt,
			SessionID:        res.SessionID,
		},
		Principal: &Principal{
			Username:    res.Username,
			Authorities: res.Roles,
			SessionID:   res.SessionID,
			ExpiresAt:   res.AccessExpiresAt,
		},
	}
}

// Refresh exchanges a current refresh token for a new token pair. The
// presented token stops working. Every failure carries [ErrUnauthorized]
// except store outages, which wrap [ErrStoreUnavailable]; both map to the
// same generic 401 at the HTTP boundary.
//
//	Performance: 1 Redis round trip (Lua compare-and-rotate).
func (e *Engine) Refresh(ctx context.Context, req RefreshRequest) RefreshResult {
	if !e.ready() {
		return RefreshResult{Failure: FailureStoreUnavailable, Err: ErrEngineNotReady}
	}

	res := e.flow.Refresh(ctx, flows.RefreshRequest{
		SessionID:    req.SessionID,
		RefreshToken: req.RefreshToken,
		AccessToken:  req.AccessToken,
	})
	if res.Failure != FailureNone {
		return RefreshResult{Failure: res.Failure, Err: wrapFailure(res.Failure, res.Err)}
	}

	return RefreshResult{
		Tokens: TokenPair{
			AccessToken:      res.AccessToken,
			AccessExpiresAt:  res.AccessExpiresAt,
			RefreshToken:     res.RefreshToken,
			RefreshExpiresAt: res.RefreshExpiresAt,
			SessionID:        res.SessionID,
		},
		Principal: &Principal{
			Username:    res.Username,
			Authorities: res.Roles,
			SessionID:   res.SessionID,
			ExpiresAt:   res.AccessExpiresAt,
		},
	}
}

// Verify checks an access token's signature and temporal claims and builds
// the request principal. It performs no I/O.
//
//	Performance: 1 HMAC verification, 0 Redis calls.
func (e *Engine) Verify(tokenStr string) VerifyResult {
	if !e.ready() {
		return VerifyResult{Failure: FailureTokenMalformed, Err: ErrEngineNotReady}
	}

	res := e.flow.Verify(tokenStr)
	if res.Failure != FailureNone {
		e.logger.Debug().Str("failure", res.Failure.String()).Msg("access token rejected")
		return VerifyResult{Failure: res.Failure, Err: wrapFailure(res.Failure, res.Err)}
	}

	return VerifyResult{Principal: principalFromClaims(res.Claims)}
}

// Logout deletes the session identified by req. Store errors are logged and
// swallowed; the returned bool only reports whether a session could be resolved.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) bool {
	if !e.ready() {
		return false
	}

	in := flows.LogoutRequest{
		SessionID:    req.SessionID,
		RefreshToken: req.RefreshToken,
		AccessToken:  req.AccessToken,
	}
	if req.Principal != nil {
		in.Username = req.Principal.Username
		in.PrincipalSessionID = req.Principal.SessionID
	}

	return e.flow.Logout(ctx, in).Resolved
}

// Profile returns display data for p when the provider implements
// [ProfileLookup]. The boolean is false when no lookup is available.
func (e *Engine) Profile(ctx context.Context, p *Principal) (Profile, bool, error) {
	if !e.ready() {
		return Profile{}, false, ErrEngineNotReady
	}
	if p == nil {
		return Profile{}, false, ErrUnauthorized
	}

	lookup, ok := e.provider.(ProfileLookup)
	if !ok {
		return Profile{Username: p.Username}, false, nil
	}

	profile, err := lookup.LookupProfile(ctx, p.Username)
	if err != nil {
		return Profile{Username: p.Username}, true, err
	}
	if profile.Username == "" {
		profile.Username = p.Username
	}
	return profile, true, nil
}

// Session returns the stored record behind p's session, without the refresh hash.
func (e *Engine) Session(ctx context.Context, p *Principal) (*session.Record, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if p == nil {
		return nil, ErrUnauthorized
	}

	rec, err := e.sessionStore.Lookup(ctx, session.Key{Username: p.Username, SessionID: p.SessionID})
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, wrapFailure(FailureStoreUnavailable, err)
		}
		return nil, err
	}
	return rec, nil
}

func principalFromClaims(c *jwt.Claims) *Principal {
	p := &Principal{
		Username:    c.Username,
		Authorities: append([]string(nil), c.Roles...),
		SessionID:   c.SessionID,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}
