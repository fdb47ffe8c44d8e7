package session

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bigtreetc/tokenauth/internal"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrRefreshMismatch is returned when the presented refresh token is not the current one.
var ErrRefreshMismatch = errors.New("refresh token mismatch")

// ErrRedisUnavailable wraps every transport or server error from Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when no entry exists for the key, including after expiry.
var ErrSessionNotFound = errors.New("refresh session not found")

// DefaultPrefix is the key namespace used when NewStore receives an empty prefix.
const DefaultPrefix = "token:"

const (
	fieldHash      = "h"
	fieldRoles     = "roles"
	fieldCreatedAt = "iat"
	fieldRotations = "rot"
)

const (
	casStatusNotFound int64 = 0
	casStatusMismatch int64 = 2
	casStatusRotated  int64 = 3
)

const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "h", ARGV[1])
redis.call("HINCRBY", KEYS[1], "rot", 1)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`

var rotateLua = redis.NewScript(rotateScript)

const compareAndRotateScript = `
local current = redis.call("HGET", KEYS[1], "h")
if not current then
  return {0}
end

if current ~= ARGV[1] then
  if ARGV[4] == "1" then
    redis.call("DEL", KEYS[1])
  end
  return {2}
end

redis.call("HSET", KEYS[1], "h", ARGV[2])
redis.call("HINCRBY", KEYS[1], "rot", 1)
redis.call("PEXPIRE", KEYS[1], ARGV[3])

local roles = redis.call("HGET", KEYS[1], "roles") or "[]"
return {3, roles}
`

var compareAndRotateLua = redis.NewScript(compareAndRotateScript)

// Store holds the currently valid refresh token per login session.
//
// All methods are safe for concurrent use; serialization of a single key is
// delegated to Redis.
type Store struct {
	redis         redis.UniversalClient
	prefix        string
	revokeOnReuse bool
	now           func() time.Time
	logger        zerolog.Logger
}

// Option customizes a [Store].
type Option func(*Store)

// WithRevokeOnReuse makes CompareAndRotate delete the session when a stale
// refresh token is presented.
func WithRevokeOnReuse(enabled bool) Option {
	return func(s *Store) {
		s.revokeOnReuse = enabled
	}
}

// WithClock sets the time source for the created-at stamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a refresh-token [Store] backed by the given Redis client.
// prefix sets the key namespace; empty means [DefaultPrefix].
func NewStore(client redis.UniversalClient, prefix string, logger zerolog.Logger, opts ...Option) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &Store{
		redis:  client,
		prefix: prefix,
		now:    time.Now,
		logger: logger.With().Str("component", "refresh_store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k Key) string {
	return s.prefix + k.Username + ":" + k.SessionID
}

// Create generates a new refresh token for k, stores its hash together with
// roles, and sets the entry to expire after ttl. An existing entry for k is replaced.
//
//	Performance: 1 round trip (MULTI DEL HSET PEXPIRE EXEC).
func (s *Store) Create(ctx context.Context, k Key, roles []string, ttl time.Duration) (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("invalid refresh TTL")
	}

	token, hash, err := newToken(k.Username)
	if err != nil {
		return "", err
	}

	if roles == nil {
		roles = []string{}
	}
	encodedRoles, err := json.Marshal(roles)
	if err != nil {
		return "", err
	}

	key := s.key(k)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldHash, hash,
			fieldRoles, string(encodedRoles),
			fieldCreatedAt, s.now().Unix(),
			fieldRotations, 0,
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return token, nil
}

// Verify reports whether presented is the current refresh token for k.
// Not found, mismatch, malformed input and Redis errors all read as false.
//
//	Performance: 1 Redis HGET.
func (s *Store) Verify(ctx context.Context, k Key, presented string) bool {
	if k.Validate() != nil {
		return false
	}

	username, secret, err := internal.DecodeRefreshToken(presented)
	if err != nil || username != k.Username {
		return false
	}

	stored, err := s.redis.HGet(ctx, s.key(k), fieldHash).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Debug().Err(err).Msg("refresh verify failed on redis")
		}
		return false
	}

	return hashMatches(stored, secret)
}

// Rotate replaces the stored token for k with a fresh one and resets the TTL.
// It fails with ErrSessionNotFound rather than resurrecting a deleted or expired session.
// Concurrent calls are serialized by Redis: only the last writer's token verifies afterward.
//
//	Performance: 1 Lua script call.
func (s *Store) Rotate(ctx context.Context, k Key, ttl time.Duration) (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("invalid refresh TTL")
	}

	token, hash, err := newToken(k.Username)
	if err != nil {
		return "", err
	}

	rotated, err := rotateLua.Run(ctx, s.redis, []string{s.key(k)}, hash, ttl.Milliseconds()).Int64()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if rotated == 0 {
		return "", ErrSessionNotFound
	}

	return token, nil
}

// CompareAndRotate verifies presented and rotates in one atomic step. Of several
// concurrent calls presenting the same token exactly one succeeds; the rest get
// ErrRefreshMismatch. On success it returns the new token and the roles stored at login.
//
//	Performance: 1 Lua script call.
func (s *Store) CompareAndRotate(ctx context.Context, k Key, presented string, ttl time.Duration) (string, []string, error) {
	if err := k.Validate(); err != nil {
		return "", nil, err
	}
	if ttl <= 0 {
		return "", nil, errors.New("invalid refresh TTL")
	}

	username, secret, err := internal.DecodeRefreshToken(presented)
	if err != nil || username != k.Username {
		return "", nil, ErrRefreshMismatch
	}
	providedHash := internal.HashRefreshSecret(secret)

	token, nextHash, err := newToken(k.Username)
	if err != nil {
		return "", nil, err
	}

	revoke := "0"
	if s.revokeOnReuse {
		revoke = "1"
	}

	res, err := compareAndRotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(k)},
		hex.EncodeToString(providedHash[:]),
		nextHash,
		ttl.Milliseconds(),
		revoke,
	).Slice()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return "", nil, fmt.Errorf("%w: empty script reply", ErrRedisUnavailable)
	}

	status, ok := res[0].(int64)
	if !ok {
		return "", nil, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	switch status {
	case casStatusNotFound:
		return "", nil, ErrSessionNotFound
	case casStatusMismatch:
		if s.revokeOnReuse {
			s.logger.Warn().Str("username", k.Username).Msg("stale refresh token presented; session revoked")
		}
		return "", nil, ErrRefreshMismatch
	case casStatusRotated:
	default:
		return "", nil, fmt.Errorf("%w: unexpected script status %d", ErrRedisUnavailable, status)
	}

	var roles []string
	if len(res) > 1 {
		if raw, ok := res[1].(string); ok {
			if err := json.Unmarshal([]byte(raw), &roles); err != nil {
				return "", nil, fmt.Errorf("decode stored roles: %w", err)
			}
		}
	}

	return token, roles, nil
}

// Delete removes the entry for k. Redis errors are logged and swallowed:
// logout must not fail because the cache is unreachable.
func (s *Store) Delete(ctx context.Context, k Key) {
	if k.Validate() != nil {
		return
	}
	if err := s.redis.Del(ctx, s.key(k)).Err(); err != nil {
		s.logger.Warn().Err(err).Str("username", k.Username).Msg("refresh session delete failed")
	}
}

// Lookup returns the stored record for k without the refresh hash.
func (s *Store) Lookup(ctx context.Context, k Key) (*Record, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}

	key := s.key(k)
	var (
		fields *redis.MapStringStringCmd
		ttl    *redis.DurationCmd
	)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values := fields.Val()
	if len(values) == 0 {
		return nil, ErrSessionNotFound
	}

	rec := &Record{Key: k, TTL: ttl.Val()}
	if raw := values[fieldRoles]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Roles); err != nil {
			return nil, fmt.Errorf("decode stored roles: %w", err)
		}
	}
	if iat, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(iat, 0)
	}
	if rot, err := strconv.ParseInt(values[fieldRotations], 10, 64); err == nil {
		rec.Rotations = rot
	}

	return rec, nil
}

func newToken(username string) (string, string, error) {
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", "", err
	}
	token, err := internal.EncodeRefreshToken(username, secret)
	if err != nil {
		return "", "", err
	}
	hash := internal.HashRefreshSecret(secret)
	return token, hex.EncodeToString(hash[:]), nil
}

func hashMatches(stored string, secret [32]byte) bool {
	hash := internal.HashRefreshSecret(secret)
	expected := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(stored), []byte(expected)) == 1
}
