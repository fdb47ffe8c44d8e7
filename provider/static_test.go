package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigtreetc/tokenauth"
	"github.com/bigtreetc/tokenauth/password"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func fastHasher(t *testing.T) password.Hasher {
	t.Helper()
	h, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestStaticProviderAuthenticate(t *testing.T) {
	p, err := NewStatic([]StaticUser{
		{Username: "u1", Password: "p1", Roles: []string{"user:read"}, DisplayName: "User One"},
	}, StaticOptions{AllowPlaintext: true, Hasher: fastHasher(t)})
	require.NoError(t, err)

	id, err := p.Authenticate(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.Username)
	assert.Equal(t, []string{"user:read"}, id.Roles)

	_, err = p.Authenticate(context.Background(), "u1", "wrong")
	require.ErrorIs(t, err, tokenauth.ErrBadCredentials)

	_, err = p.Authenticate(context.Background(), "nobody", "p1")
	require.ErrorIs(t, err, tokenauth.ErrBadCredentials)

	profile, err := p.LookupProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "User One", profile.DisplayName)
}

func TestStaticProviderRolesAreCopied(t *testing.T) {
	p, err := NewStatic([]StaticUser{
		{Username: "u1", Password: "p1", Roles: []string{"user:read"}},
	}, StaticOptions{AllowPlaintext: true, Hasher: fastHasher(t)})
	require.NoError(t, err)

	id, err := p.Authenticate(context.Background(), "u1", "p1")
	require.NoError(t, err)
	id.Roles[0] = "admin"

	again, err := p.Authenticate(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:read"}, again.Roles)
}

func TestStaticProviderRejectsBadInput(t *testing.T) {
	h := fastHasher(t)
	hash, err := h.Hash("p1")
	require.NoError(t, err)

	cases := map[string][]StaticUser{
		"missing username":   {{PasswordHash: hash}},
		"duplicate username": {{Username: "a", PasswordHash: hash}, {Username: "a", PasswordHash: hash}},
		"no password":        {{Username: "a"}},
		"unknown scheme":     {{Username: "a", PasswordHash: "md5:abc"}},
		"plaintext":          {{Username: "a", Password: "p1"}},
	}
	for name, users := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewStatic(users, StaticOptions{Hasher: h})
			require.Error(t, err)
		})
	}

	p, err := NewStatic([]StaticUser{{Username: "a", PasswordHash: hash}}, StaticOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, p.Usernames())
}

func TestLoadStaticFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	doc := `users:
  - username: u1
    password: p1
    roles: ["user:read"]
    email: u1@example.com
  - username: admin
    password: admin-pass
    roles: ["user:read", "user:write"]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	users, err := LoadStaticFile(path)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1@example.com", users[0].Email)
	assert.Equal(t, []string{"user:read", "user:write"}, users[1].Roles)

	_, err = LoadStaticFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
