package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreTest(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "", zerolog.Nop(), opts...)

	return store, mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func newKey(username string) Key {
	return Key{Username: username, SessionID: uuid.NewString()}
}

func TestCreateThenVerify(t *testing.T) {
	ctx := context.Background()
	store, mr, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	token, err := store.Create(ctx, k, []string{"user:read"}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, store.Verify(ctx, k, token))
	assert.False(t, store.Verify(ctx, k, token+"x"))
	assert.False(t, store.Verify(ctx, k, ""))
	assert.False(t, store.Verify(ctx, newKey("u1"), token), "token must not verify for another session")

	stored := mr.HGet(DefaultPrefix+k.String(), fieldHash)
	require.NotEmpty(t, stored)
	assert.NotContains(t, token, stored, "store keeps only the digest")
}

func TestVerifyRejectsTokenOfOtherUser(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	alice := newKey("alice")
	bob := Key{Username: "bob", SessionID: alice.SessionID}

	aliceToken, err := store.Create(ctx, alice, nil, time.Hour)
	require.NoError(t, err)
	_, err = store.Create(ctx, bob, nil, time.Hour)
	require.NoError(t, err)

	assert.False(t, store.Verify(ctx, bob, aliceToken))
}

func TestCreateRejectsInvalidKey(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	_, err := store.Create(ctx, Key{Username: "", SessionID: uuid.NewString()}, nil, time.Hour)
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = store.Create(ctx, Key{Username: "u1", SessionID: "not-a-uuid"}, nil, time.Hour)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestRotateInvalidatesPreviousToken(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	first, err := store.Create(ctx, k, nil, time.Hour)
	require.NoError(t, err)

	second, err := store.Rotate(ctx, k, time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.False(t, store.Verify(ctx, k, first))
	assert.True(t, store.Verify(ctx, k, second))
}

func TestRotateDoesNotResurrectDeletedSession(t *testing.T) {
	ctx := context.Background()
	store, mr, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	_, err := store.Create(ctx, k, nil, time.Hour)
	require.NoError(t, err)

	store.Delete(ctx, k)

	_, err = store.Rotate(ctx, k, time.Hour)
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, mr.Exists(DefaultPrefix+k.String()))
}

func TestConcurrentRotateLeavesOneValidToken(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	_, err := store.Create(ctx, k, nil, time.Hour)
	require.NoError(t, err)

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	tokens := make(chan string, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			token, err := store.Rotate(ctx, k, time.Hour)
			if err == nil {
				tokens <- token
			}
		}()
	}

	close(start)
	wg.Wait()
	close(tokens)

	issued, valid := 0, 0
	for token := range tokens {
		issued++
		if store.Verify(ctx, k, token) {
			valid++
		}
	}

	require.Equal(t, workers, issued)
	require.Equal(t, 1, valid, "only the last writer's token may verify")
}

func TestCompareAndRotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	current, err := store.Create(ctx, k, []string{"user:read"}, time.Hour)
	require.NoError(t, err)

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	winners := make(chan string, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			next, roles, err := store.CompareAndRotate(ctx, k, current, time.Hour)
			if err == nil {
				assert.Equal(t, []string{"user:read"}, roles)
				winners <- next
			}
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)
	close(winners)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrRefreshMismatch):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	require.Equal(t, 1, success)

	winner := <-winners
	assert.True(t, store.Verify(ctx, k, winner))
	assert.False(t, store.Verify(ctx, k, current))
}

func TestCompareAndRotateMismatchKeepsSessionByDefault(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	first, err := store.Create(ctx, k, nil, time.Hour)
	require.NoError(t, err)
	second, _, err := store.CompareAndRotate(ctx, k, first, time.Hour)
	require.NoError(t, err)

	_, _, err = store.CompareAndRotate(ctx, k, first, time.Hour)
	require.ErrorIs(t, err, ErrRefreshMismatch)

	assert.True(t, store.Verify(ctx, k, second))
}

func TestCompareAndRotateRevokesOnReuse(t *testing.T) {
	ctx := context.Background()
	store, mr, cleanup := newStoreTest(t, WithRevokeOnReuse(true))
	defer cleanup()

	k := newKey("u1")
	first, err := store.Create(ctx, k, nil, time.Hour)
	require.NoError(t, err)
	second, _, err := store.CompareAndRotate(ctx, k, first, time.Hour)
	require.NoError(t, err)

	_, _, err = store.CompareAndRotate(ctx, k, first, time.Hour)
	require.ErrorIs(t, err, ErrRefreshMismatch)

	assert.False(t, mr.Exists(DefaultPrefix+k.String()))
	assert.False(t, store.Verify(ctx, k, second))

	_, _, err = store.CompareAndRotate(ctx, k, second, time.Hour)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCompareAndRotateRejectsHandleForOtherUser(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	alice := newKey("alice")
	token, err := store.Create(ctx, alice, nil, time.Hour)
	require.NoError(t, err)

	_, _, err = store.CompareAndRotate(ctx, Key{Username: "bob", SessionID: alice.SessionID}, token, time.Hour)
	require.ErrorIs(t, err, ErrRefreshMismatch)
}

func TestDeleteThenVerifyFails(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	token, err := store.Create(ctx, k, nil, time.Hour)
	require.NoError(t, err)

	store.Delete(ctx, k)
	assert.False(t, store.Verify(ctx, k, token))

	// second delete is a no-op
	store.Delete(ctx, k)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store, mr, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	token, err := store.Create(ctx, k, nil, time.Minute)
	require.NoError(t, err)

	mr.FastForward(59 * time.Second)
	require.True(t, store.Verify(ctx, k, token))

	mr.FastForward(2 * time.Second)
	assert.False(t, store.Verify(ctx, k, token))

	_, err = store.Rotate(ctx, k, time.Minute)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRotateResetsTTL(t *testing.T) {
	ctx := context.Background()
	store, mr, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	_, err := store.Create(ctx, k, nil, time.Minute)
	require.NoError(t, err)

	mr.FastForward(50 * time.Second)
	token, err := store.Rotate(ctx, k, time.Minute)
	require.NoError(t, err)

	mr.FastForward(50 * time.Second)
	assert.True(t, store.Verify(ctx, k, token))
	assert.Equal(t, 10*time.Second, mr.TTL(DefaultPrefix+k.String()))
}

func TestLookupReturnsRecord(t *testing.T) {
	ctx := context.Background()
	store, _, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	token, err := store.Create(ctx, k, []string{"user:read", "user:write"}, time.Hour)
	require.NoError(t, err)
	_, _, err = store.CompareAndRotate(ctx, k, token, time.Hour)
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, k, rec.Key)
	assert.Equal(t, []string{"user:read", "user:write"}, rec.Roles)
	assert.Equal(t, int64(1), rec.Rotations)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, time.Hour, rec.TTL)

	_, err = store.Lookup(ctx, newKey("u1"))
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreatedAtUsesStoreClock(t *testing.T) {
	ctx := context.Background()
	issuedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store, _, cleanup := newStoreTest(t, WithClock(func() time.Time { return issuedAt }))
	defer cleanup()

	k := newKey("u1")
	_, err := store.Create(ctx, k, nil, time.Hour)
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, k)
	require.NoError(t, err)
	assert.WithinDuration(t, issuedAt, rec.CreatedAt, 0)
}

func TestRedisOutageSurfacesAsUnavailable(t *testing.T) {
	ctx := context.Background()
	store, mr, cleanup := newStoreTest(t)
	defer cleanup()

	k := newKey("u1")
	token, err := store.Create(ctx, k, nil, time.Hour)
	require.NoError(t, err)

	mr.Close()

	_, err = store.Create(ctx, newKey("u2"), nil, time.Hour)
	require.ErrorIs(t, err, ErrRedisUnavailable)

	_, _, err = store.CompareAndRotate(ctx, k, token, time.Hour)
	require.ErrorIs(t, err, ErrRedisUnavailable)

	assert.False(t, store.Verify(ctx, k, token))
	store.Delete(ctx, k)
}
