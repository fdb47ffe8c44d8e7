package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/bigtreetc/tokenauth"
	"github.com/bigtreetc/tokenauth/password"
	"gopkg.in/yaml.v3"
)

// StaticUser is one configured account.
type StaticUser struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	Password     string   `yaml:"password"` // plaintext, accepted only with AllowPlaintext
	Roles        []string `yaml:"roles"`
	DisplayName  string   `yaml:"display_name"`
	Email        string   `yaml:"email"`
}

// StaticOptions controls how [NewStatic] treats its input.
type StaticOptions struct {
	// AllowPlaintext hashes a plaintext Password at load. Local and test profiles only.
	AllowPlaintext bool
	Hasher         password.Hasher
}

type staticEntry struct {
	hash    string
	roles   []string
	profile tokenauth.Profile
}

// StaticProvider authenticates against a fixed in-memory user table.
type StaticProvider struct {
	users map[string]staticEntry
}

// NewStatic builds a provider from users. Duplicate usernames, missing
// hashes and unsupported hash schemes are rejected.
func NewStatic(users []StaticUser, opts StaticOptions) (*StaticProvider, error) {
	hasher := opts.Hasher
	if hasher == nil {
		h, err := password.NewArgon2(password.DefaultArgon2Config())
		if err != nil {
			return nil, err
		}
		hasher = h
	}

	p := &StaticProvider{users: make(map[string]staticEntry, len(users))}
	for i, u := range users {
		if u.Username == "" {
			return nil, fmt.Errorf("users[%d]: username is required", i)
		}
		if _, dup := p.users[u.Username]; dup {
			return nil, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username)
		}

		hash := u.PasswordHash
		switch {
		case hash != "":
			if !password.Supported(hash) {
				return nil, fmt.Errorf("users[%d]: unsupported password hash", i)
			}
		case u.Password != "" && opts.AllowPlaintext:
			h, err := hasher.Hash(u.Password)
			if err != nil {
				return nil, fmt.Errorf("users[%d]: %w", i, err)
			}
			hash = h
		case u.Password != "":
			return nil, fmt.Errorf("users[%d]: plaintext passwords are only allowed in local or test profiles", i)
		default:
			return nil, fmt.Errorf("users[%d]: password_hash is required", i)
		}

		p.users[u.Username] = staticEntry{
			hash:  hash,
			roles: append([]string(nil), u.Roles...),
			profile: tokenauth.Profile{
				Username:    u.Username,
				DisplayName: u.DisplayName,
				Email:       u.Email,
			},
		}
	}

	return p, nil
}

// LoadStaticFile reads a YAML document of the form `users: [...]`.
func LoadStaticFile(path string) ([]StaticUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}

	var doc struct {
		Users []StaticUser `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing users file: %w", err)
	}
	return doc.Users, nil
}

// Authenticate implements [tokenauth.AuthenticationProvider].
func (p *StaticProvider) Authenticate(_ context.Context, username, pw string) (tokenauth.Identity, error) {
	u, ok := p.users[username]
	if !ok {
		burnVerify(pw)
		return tokenauth.Identity{}, tokenauth.ErrBadCredentials
	}

	match, err := password.Verify(pw, u.hash)
	if err != nil && !errors.Is(err, password.ErrPasswordTooLong) {
		return tokenauth.Identity{}, err
	}
	if !match {
		return tokenauth.Identity{}, tokenauth.ErrBadCredentials
	}

	return tokenauth.Identity{Username: username, Roles: append([]string(nil), u.roles...)}, nil
}

// LookupProfile implements [tokenauth.ProfileLookup].
func (p *StaticProvider) LookupProfile(_ context.Context, username string) (tokenauth.Profile, error) {
	u, ok := p.users[username]
	if !ok {
		return tokenauth.Profile{Username: username}, nil
	}
	return u.profile, nil
}

// Usernames lists the configured accounts in order.
func (p *StaticProvider) Usernames() []string {
	out := make([]string, 0, len(p.users))
	for name := range p.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// burnVerify spends about as long as a real verification so unknown
// usernames cannot be told apart by response time.
func burnVerify(pw string) {
	dummyOnce.Do(func() {
		h, err := password.NewArgon2(password.DefaultArgon2Config())
		if err != nil {
			return
		}
		dummyHash, _ = h.Hash("unknown-user-placeholder")
	})
	if dummyHash != "" {
		_, _ = password.Verify(pw, dummyHash)
	}
}
