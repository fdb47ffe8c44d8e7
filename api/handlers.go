package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bigtreetc/tokenauth"
	"github.com/bigtreetc/tokenauth/middleware"
	"github.com/bigtreetc/tokenauth/session"
	"github.com/rs/zerolog"
)

type handler struct {
	engine *tokenauth.Engine
	config tokenauth.Config
	logger zerolog.Logger
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`

	// Set only for refreshes sent in the body form, whose clients keep no cookies.
	RefreshToken     string     `json:"refreshToken,omitempty"`
	RefreshExpiresAt *time.Time `json:"refreshExpiresAt,omitempty"`
}

type sessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Rotations int64     `json:"rotations"`
	ExpiresIn int64     `json:"expiresIn"`
}

type meResponse struct {
	tokenauth.Profile
	Authorities []string     `json:"authorities"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	Session     *sessionInfo `json:"session,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteOK(w, map[string]string{"status": "ok"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "malformed request")
		return
	}

	ctx := tokenauth.WithClientIP(r.Context(), clientIP(r))
	res := h.engine.Login(ctx, req.Username, req.Password)
	if !res.OK() {
		switch res.Failure {
		case tokenauth.FailureRateLimited:
			middleware.WriteError(w, http.StatusTooManyRequests, "too many login attempts")
		case tokenauth.FailureMalformedRequest:
			middleware.WriteError(w, http.StatusBadRequest, "malformed request")
		case tokenauth.FailureStoreUnavailable:
			h.logger.Error().Err(res.Err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("login failed: store unavailable")
			middleware.WriteError(w, http.StatusServiceUnavailable, "service unavailable")
		default:
			middleware.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		}
		return
	}

	h.writeTokens(w, res.Tokens, false)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	req := tokenauth.RefreshRequest{
		SessionID:    cookieValue(r, h.config.Cookie.SessionName),
		RefreshToken: cookieValue(r, h.config.Cookie.RefreshName),
	}

	// Without the refresh cookie the body form {accessToken, refreshToken} is used.
	bodyForm := req.RefreshToken == ""
	if bodyForm {
		body, ok := decodeTokenBody(r)
		if !ok {
			middleware.WriteUnauthorized(w)
			return
		}
		req = tokenauth.RefreshRequest{RefreshToken: body.RefreshToken, AccessToken: body.AccessToken}
	}

	res := h.engine.Refresh(r.Context(), req)
	if !res.OK() {
		h.logger.Debug().
			Str("failure", res.Failure.String()).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("refresh rejected")
		middleware.WriteUnauthorized(w)
		return
	}

	h.writeTokens(w, res.Tokens, bodyForm)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	req := tokenauth.LogoutRequest{
		SessionID:    cookieValue(r, h.config.Cookie.SessionName),
		RefreshToken: cookieValue(r, h.config.Cookie.RefreshName),
	}
	if token, ok := middleware.BearerToken(r); ok {
		req.AccessToken = token
	}
	if p, ok := tokenauth.PrincipalFromContext(r.Context()); ok {
		req.Principal = p
	}
	if body, ok := decodeTokenBody(r); ok {
		if req.RefreshToken == "" {
			req.RefreshToken = body.RefreshToken
		}
		if req.AccessToken == "" {
			req.AccessToken = body.AccessToken
		}
	}

	h.engine.Logout(r.Context(), req)
	h.clearSessionCookies(w)
	middleware.WriteOK(w, nil)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := tokenauth.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return
	}

	profile, _, err := h.engine.Profile(r.Context(), p)
	if err != nil {
		h.logger.Warn().Err(err).Msg("profile lookup failed")
	}

	resp := meResponse{
		Profile:     profile,
		Authorities: p.Authorities,
		ExpiresAt:   p.ExpiresAt,
	}

	rec, err := h.engine.Session(r.Context(), p)
	switch {
	case err == nil:
		resp.Session = &sessionInfo{
			ID:        p.SessionID,
			CreatedAt: rec.CreatedAt,
			Rotations: rec.Rotations,
			ExpiresIn: int64(rec.TTL / time.Second),
		}
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrInvalidKey):
	default:
		h.logger.Warn().Err(err).Msg("session lookup failed")
	}

	middleware.WriteOK(w, resp)
}

func (h *handler) writeTokens(w http.ResponseWriter, tokens tokenauth.TokenPair, withRefresh bool) {
	h.setSessionCookies(w, tokens)
	w.Header().Set("Authorization", "Bearer "+tokens.AccessToken)
	w.Header().Set("Cache-Control", "no-store")

	resp := tokenResponse{AccessToken: tokens.AccessToken, ExpiresAt: tokens.AccessExpiresAt}
	if withRefresh {
		resp.RefreshToken = tokens.RefreshToken
		resp.RefreshExpiresAt = &tokens.RefreshExpiresAt
	}
	middleware.WriteOK(w, resp)
}

// decodeTokenBody reads an optional JSON token body. An empty body is not ok.
func decodeTokenBody(r *http.Request) (tokenBody, bool) {
	var body tokenBody
	if r.Body == nil {
		return body, false
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, false
	}
	return body, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
