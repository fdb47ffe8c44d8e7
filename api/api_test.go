package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bigtreetc/tokenauth"
	authjwt "github.com/bigtreetc/tokenauth/jwt"
	"github.com/bigtreetc/tokenauth/metrics/export/prometheus"
	"github.com/bigtreetc/tokenauth/middleware"
	"github.com/bigtreetc/tokenauth/password"
	"github.com/bigtreetc/tokenauth/provider"
	"github.com/go-chi/chi/v5"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	router http.Handler
	engine *tokenauth.Engine
	mr     *miniredis.Miniredis
}

func newTestServer(t *testing.T, mutate func(*tokenauth.Config)) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	users, err := provider.NewStatic([]provider.StaticUser{
		{Username: "u1", Password: "p1", Roles: []string{"user:read"}, DisplayName: "User One", Email: "u1@example.com"},
		{Username: "u2", Password: "p2", Roles: []string{"report:read"}},
	}, provider.StaticOptions{AllowPlaintext: true, Hasher: hasher})
	require.NoError(t, err)

	cfg := tokenauth.DefaultConfig()
	cfg.Profile = tokenauth.ProfileTest
	cfg.JWT.SigningKey = []byte("api-test-signing-key-0123456789abcdef")
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := tokenauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProvider(users).
		Build()
	require.NoError(t, err)

	router := NewRouter(engine, Options{
		Logger:  zerolog.Nop(),
		Metrics: prometheus.New(engine).Handler(),
		Routes: func(r chi.Router) {
			r.With(middleware.RequireAuthority("user:read")).Get("/api/users", func(w http.ResponseWriter, _ *http.Request) {
				middleware.WriteOK(w, []string{"u1", "u2"})
			})
		},
	})

	return &testServer{router: router, engine: engine, mr: mr}
}

func (s *testServer) do(method, path string, body any, header http.Header, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func accessTokenOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, rec)
	require.True(t, env.Success)
	var data struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.AccessToken)
	return data.AccessToken
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *testServer) login(t *testing.T, username, pw string) (string, []*http.Cookie) {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": username, "password": pw}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return accessTokenOf(t, rec), rec.Result().Cookies()
}

func TestLoginAndProtectedEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "u1", "password": "p1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := accessTokenOf(t, rec)
	assert.Equal(t, "Bearer "+token, rec.Header().Get("Authorization"))

	claims := &authjwt.Claims{}
	_, _, err := gjwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Username)
	assert.Equal(t, []string{"user:read"}, claims.Roles)

	sessionCookie := cookieNamed(rec, "SESSION")
	refreshCookie := cookieNamed(rec, "refresh_token")
	require.NotNil(t, sessionCookie)
	require.NotNil(t, refreshCookie)
	for _, c := range []*http.Cookie{sessionCookie, refreshCookie} {
		assert.True(t, c.HttpOnly, c.Name)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite, c.Name)
		assert.False(t, c.Secure, "test profile must not set Secure")
	}
	assert.Equal(t, 3600, sessionCookie.MaxAge)
	assert.Equal(t, 7200, refreshCookie.MaxAge)

	rec = s.do(http.MethodGet, "/api/users", nil, bearer(token))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec).Message)

	rec = s.do(http.MethodGet, "/api/users", nil, bearer(token+"x"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthorityDenied(t *testing.T) {
	s := newTestServer(t, nil)
	token, _ := s.login(t, "u2", "p2")

	rec := s.do(http.MethodGet, "/api/users", nil, bearer(token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, decode(t, rec).Success)
}

func TestLoginFailures(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "u1", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decode(t, rec).Message)
	assert.Nil(t, cookieNamed(rec, "SESSION"))

	rec = s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "ghost", "password": "p1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decode(t, rec).Message)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	s.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "u1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t, func(c *tokenauth.Config) { c.RateLimit.MaxLoginAttempts = 3 })

	for i := 0; i < 3; i++ {
		rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "u1", "password": "bad"}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "u1", "password": "p1"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoginStoreUnavailable(t *testing.T) {
	s := newTestServer(t, func(c *tokenauth.Config) { c.RateLimit.Enabled = false })
	s.mr.Close()

	rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "u1", "password": "p1"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefreshWithCookiesRotatesAndRejectsReplay(t *testing.T) {
	s := newTestServer(t, nil)
	_, cookies := s.login(t, "u1", "p1")

	rec := s.do(http.MethodPost, "/api/auth/refresh", nil, nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fresh := accessTokenOf(t, rec)

	newRefresh := cookieNamed(rec, "refresh_token")
	require.NotNil(t, newRefresh)
	assert.NotEqual(t, cookies[1].Value, newRefresh.Value)

	rec = s.do(http.MethodPost, "/api/auth/refresh", nil, nil, cookies...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec).Message)

	rec = s.do(http.MethodGet, "/api/users", nil, bearer(fresh))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshWithBodyChains(t *testing.T) {
	s := newTestServer(t, nil)
	access, cookies := s.login(t, "u1", "p1")

	var refreshToken string
	for _, c := range cookies {
		if c.Name == "refresh_token" {
			refreshToken = c.Value
		}
	}
	require.NotEmpty(t, refreshToken)

	type refreshData struct {
		AccessToken      string     `json:"accessToken"`
		RefreshToken     string     `json:"refreshToken"`
		RefreshExpiresAt *time.Time `json:"refreshExpiresAt"`
	}

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/api/auth/refresh", map[string]string{"accessToken": access, "refreshToken": refreshToken}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var data refreshData
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
		require.NotEmpty(t, data.AccessToken)
		require.NotEmpty(t, data.RefreshToken)
		require.NotNil(t, data.RefreshExpiresAt)
		assert.NotEqual(t, refreshToken, data.RefreshToken)

		access, refreshToken = data.AccessToken, data.RefreshToken
	}
}

func TestCookieRefreshKeepsRefreshTokenOutOfBody(t *testing.T) {
	s := newTestServer(t, nil)
	_, cookies := s.login(t, "u1", "p1")

	rec := s.do(http.MethodPost, "/api/auth/refresh", nil, nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var data map[string]any
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.NotContains(t, data, "refreshToken")
	assert.NotContains(t, data, "refreshExpiresAt")
}

func TestRefreshFailuresAreIndistinguishable(t *testing.T) {
	s := newTestServer(t, nil)

	bodies := []any{
		nil,
		map[string]string{"refreshToken": "garbage"},
		map[string]string{"accessToken": "a.b.c", "refreshToken": "dTE.AAAA"},
	}
	for _, body := range bodies {
		rec := s.do(http.MethodPost, "/api/auth/refresh", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `{"success":false,"message":"unauthorized"}`, strings.TrimSpace(rec.Body.String()))
	}
}

func TestUnauthorizedResponsesMatch(t *testing.T) {
	s := newTestServer(t, nil)

	refresh := s.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": "garbage"}, nil)
	verify := s.do(http.MethodGet, "/api/users", nil, bearer("a.b.c"))
	missing := s.do(http.MethodGet, "/api/users", nil, nil)

	for _, rec := range []*httptest.ResponseRecorder{refresh, verify, missing} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, refresh.Body.String(), rec.Body.String())
		assert.Equal(t, refresh.Header().Get("WWW-Authenticate"), rec.Header().Get("WWW-Authenticate"))
		assert.Equal(t, refresh.Header().Get("Content-Type"), rec.Header().Get("Content-Type"))
	}
	assert.NotEmpty(t, refresh.Header().Get("WWW-Authenticate"))
}

func TestLogoutThenRefresh(t *testing.T) {
	s := newTestServer(t, nil)
	_, cookies := s.login(t, "u1", "p1")

	rec := s.do(http.MethodPost, "/api/auth/logout", nil, nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)

	for _, name := range []string{"SESSION", "refresh_token"} {
		c := cookieNamed(rec, name)
		require.NotNil(t, c, name)
		assert.Negative(t, c.MaxAge, name)
		assert.Empty(t, c.Value, name)
	}
	assert.Contains(t, strings.Join(rec.Header().Values("Set-Cookie"), "\n"), "Max-Age=0")

	rec = s.do(http.MethodPost, "/api/auth/refresh", nil, nil, cookies...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutSessionStillSucceeds(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/auth/logout", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec).Success)
}

func TestMe(t *testing.T) {
	s := newTestServer(t, nil)
	token, _ := s.login(t, "u1", "p1")

	rec := s.do(http.MethodGet, "/api/auth/me", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)

	var me struct {
		Username    string   `json:"username"`
		DisplayName string   `json:"displayName"`
		Email       string   `json:"email"`
		Authorities []string `json:"authorities"`
		Session     *struct {
			Rotations int64 `json:"rotations"`
			ExpiresIn int64 `json:"expiresIn"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &me))
	assert.Equal(t, "u1", me.Username)
	assert.Equal(t, "User One", me.DisplayName)
	assert.Equal(t, "u1@example.com", me.Email)
	assert.Equal(t, []string{"user:read"}, me.Authorities)
	require.NotNil(t, me.Session)
	assert.Zero(t, me.Session.Rotations)
	assert.Positive(t, me.Session.ExpiresIn)

	rec = s.do(http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = s.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _ := s.login(t, "u1", "p1")
	rec = s.do(http.MethodGet, "/metrics", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tokenauth_login_success_total 1")
}

func TestSecureCookiesOutsideLocalProfiles(t *testing.T) {
	s := newTestServer(t, func(c *tokenauth.Config) { c.Profile = tokenauth.ProfileProduction })

	rec := s.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "u1", "password": "p1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, cookieNamed(rec, "SESSION").Secure)
	assert.True(t, cookieNamed(rec, "refresh_token").Secure)
}

func TestUnknownPathRequiresAuthentication(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/nowhere", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _ := s.login(t, "u1", "p1")
	rec = s.do(http.MethodGet, "/api/nowhere", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDefaultChainOrder(t *testing.T) {
	s := newTestServer(t, nil)

	names := middleware.Names(DefaultChain(s.engine, Options{Logger: zerolog.Nop()}))
	assert.Equal(t, []string{
		"request_id",
		"request_log",
		"recover",
		"body_limit",
		"verify_access_token",
		"require_authenticated",
	}, names)
}
