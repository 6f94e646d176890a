package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestPool returns a pgx pool for testing. Skips the test if
// TEST_DATABASE_URL is not set or the database is not reachable.
func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS edit_locks (
			resource_id     TEXT PRIMARY KEY,
			holder_id       TEXT NOT NULL,
			token           TEXT NOT NULL,
			acquired_at     TIMESTAMPTZ NOT NULL,
			last_renewed_at TIMESTAMPTZ NOT NULL,
			expires_at      TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		t.Skipf("Postgres not usable: %v", err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "TRUNCATE edit_locks")
		pool.Close()
	})

	return pool
}

func TestPostgresStore_AcquireAndConflict(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresStore(pool, ExpiryPolicy{TTL: time.Minute, SkewTolerance: 0})
	ctx := context.Background()

	granted, err := store.TryAcquire(ctx, "pg-conf-1", "alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, granted.Outcome)
	assert.NotEmpty(t, granted.Token)
	assert.False(t, granted.ExpiresAt.IsZero())

	res, err := store.TryAcquire(ctx, "pg-conf-1", "bob", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Equal(t, "alice", res.HolderID)
	assert.WithinDuration(t, granted.ExpiresAt, res.ExpiresAt, time.Second)
}

func TestPostgresStore_IdempotentReacquireRotatesToken(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresStore(pool, ExpiryPolicy{TTL: time.Minute, SkewTolerance: 0})
	ctx := context.Background()

	first, err := store.TryAcquire(ctx, "pg-conf-2", "alice", time.Minute)
	require.NoError(t, err)
	second, err := store.TryAcquire(ctx, "pg-conf-2", "alice", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, OutcomeGranted, second.Outcome)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestPostgresStore_ExpiryReclaim(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresStore(pool, ExpiryPolicy{TTL: 500 * time.Millisecond, SkewTolerance: 0})
	ctx := context.Background()

	res, err := store.TryAcquire(ctx, "pg-conf-3", "alice", 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)

	time.Sleep(700 * time.Millisecond)

	res, err = store.TryAcquire(ctx, "pg-conf-3", "bob", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, "bob", res.HolderID)
}

func TestPostgresStore_Renew(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresStore(pool, ExpiryPolicy{TTL: time.Minute, SkewTolerance: 0})
	ctx := context.Background()

	granted, err := store.TryAcquire(ctx, "pg-conf-4", "alice", time.Minute)
	require.NoError(t, err)

	res, err := store.Renew(ctx, "pg-conf-4", "alice", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.True(t, res.ExpiresAt.After(granted.ExpiresAt))
	assert.Equal(t, granted.Token, res.Token)

	res, err = store.Renew(ctx, "pg-conf-4", "bob", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotHolder, res.Outcome)
	assert.Equal(t, "alice", res.HolderID)
}

func TestPostgresStore_RenewAfterExpiry(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresStore(pool, ExpiryPolicy{TTL: 300 * time.Millisecond, SkewTolerance: 0})
	ctx := context.Background()

	res, err := store.TryAcquire(ctx, "pg-conf-5", "alice", 300*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)

	time.Sleep(500 * time.Millisecond)

	res, err = store.Renew(ctx, "pg-conf-5", "alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, res.Outcome)

	// The row persists, classified expired, until reclaimed.
	status, err := store.Status(ctx, "pg-conf-5")
	require.NoError(t, err)
	assert.Equal(t, StateExpired, status.State)
	assert.Equal(t, "alice", status.HolderID)
}

func TestPostgresStore_Release(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresStore(pool, ExpiryPolicy{TTL: time.Minute, SkewTolerance: 0})
	ctx := context.Background()

	_, err := store.TryAcquire(ctx, "pg-conf-6", "alice", time.Minute)
	require.NoError(t, err)

	res, err := store.Release(ctx, "pg-conf-6", "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotHolder, res.Outcome)

	res, err = store.Release(ctx, "pg-conf-6", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, res.Outcome)

	// Idempotent once gone.
	res, err = store.Release(ctx, "pg-conf-6", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, res.Outcome)

	status, err := store.Status(ctx, "pg-conf-6")
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, status.State)
}

func TestPostgresStore_ForceReleaseAndList(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresStore(pool, ExpiryPolicy{TTL: time.Minute, SkewTolerance: 0})
	ctx := context.Background()

	_, err := store.TryAcquire(ctx, "pg-conf-7", "alice", time.Minute)
	require.NoError(t, err)
	_, err = store.TryAcquire(ctx, "pg-conf-8", "alice", time.Minute)
	require.NoError(t, err)

	locks, err := store.ListByHolder(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, locks, 2)

	require.NoError(t, store.ForceRelease(ctx, "pg-conf-7"))

	locks, err = store.ListByHolder(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, locks, 1)
	assert.Equal(t, "pg-conf-8", locks[0].ResourceID)
}

func TestPostgresStore_ConcurrentAcquire(t *testing.T) {
	pool := getTestPool(t)
	store := NewPostgresStore(pool, ExpiryPolicy{TTL: time.Minute, SkewTolerance: 0})
	ctx := context.Background()

	results := make(chan Outcome, 10)
	for i := 0; i < 10; i++ {
		holder := string(rune('a' + i))
		go func() {
			res, err := store.TryAcquire(ctx, "pg-conf-race", holder, time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				results <- ""
				return
			}
			results <- res.Outcome
		}()
	}

	grantedCount := 0
	for i := 0; i < 10; i++ {
		if <-results == OutcomeGranted {
			grantedCount++
		}
	}
	assert.Equal(t, 1, grantedCount, "exactly one concurrent acquire wins")
}
