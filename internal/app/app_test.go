package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bigtreetc/tokenauth"
	"github.com/bigtreetc/tokenauth/provider"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.Redis.Embedded = true
	cfg.Auth.Profile = tokenauth.ProfileTest
	cfg.Auth.JWT.SigningKey = []byte(testKey)
	cfg.Users = []provider.StaticUser{
		{Username: "admin@example.com", Password: "secret", Roles: []string{"ADMIN"}, DisplayName: "Admin"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newApp(t *testing.T, cfg *Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func login(t *testing.T, h http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	return rec
}

func TestAppWithStaticUsers(t *testing.T) {
	a := newApp(t, testConfig(t))

	rec := login(t, a.Handler(), "admin@example.com", "secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = login(t, a.Handler(), "admin@example.com", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	srv := a.Server()
	assert.Equal(t, ":8080", srv.Addr)
	assert.NotNil(t, srv.Handler)
}

func TestAppWithSQLiteSeedsUsers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.DSN = filepath.Join(t.TempDir(), "staff.db")

	a := newApp(t, cfg)
	rec := login(t, a.Handler(), "admin@example.com", "secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Data struct {
			AccessToken string `json:"accessToken"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))

	res := a.Engine().Verify(env.Data.AccessToken)
	require.True(t, res.OK())
	assert.Equal(t, []string{"ROLE_ADMIN"}, res.Principal.Authorities)
	require.NoError(t, a.Close())

	// A second start against the same database skips existing accounts.
	a = newApp(t, cfg)
	rec = login(t, a.Handler(), "admin@example.com", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Embedded = false
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
