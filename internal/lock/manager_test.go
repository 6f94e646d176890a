package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(checker PermissionChecker, opts ...ManagerOption) (*Manager, *InMemoryStore, *fakeClock) {
	clock := newFakeClock(testEpoch)
	policy := ExpiryPolicy{TTL: 900 * time.Second, SkewTolerance: 0}
	store := NewInMemoryStore(clock, policy)
	m := NewManager(store, policy, checker, clock, zerolog.Nop(), opts...)
	return m, store, clock
}

// flakyStore fails the first N mutations before delegating, to exercise the
// manager's bounded retry.
type flakyStore struct {
	Store
	failures int
}

func (s *flakyStore) TryAcquire(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error) {
	if s.failures > 0 {
		s.failures--
		return Result{}, errors.New("connection reset")
	}
	return s.Store.TryAcquire(ctx, resourceID, holderID, ttl)
}

func TestManager_Acquire(t *testing.T) {
	m, _, _ := newTestManager(AllowAll())
	ctx := context.Background()

	res, err := m.Acquire(ctx, "conf-42", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, testEpoch.Add(900*time.Second), res.ExpiresAt)
}

func TestManager_Acquire_PermissionDenied(t *testing.T) {
	denyAll := PermissionCheckerFunc(func(ctx context.Context, userID, resourceID string) (bool, error) {
		return false, nil
	})
	m, store, _ := newTestManager(denyAll)
	ctx := context.Background()

	res, err := m.Acquire(ctx, "conf-42", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.Empty(t, res.HolderID)

	// The permission check runs before the store is touched.
	assert.Equal(t, 0, store.Len())
}

func TestManager_Acquire_PermissionCheckerError(t *testing.T) {
	failing := PermissionCheckerFunc(func(ctx context.Context, userID, resourceID string) (bool, error) {
		return false, errors.New("rbac unreachable")
	})
	m, _, _ := newTestManager(failing)

	_, err := m.Acquire(context.Background(), "conf-42", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check edit permission")
}

func TestManager_Renew_PermissionDenied(t *testing.T) {
	calls := 0
	checker := PermissionCheckerFunc(func(ctx context.Context, userID, resourceID string) (bool, error) {
		calls++
		return calls == 1, nil // allow the acquire, deny the renew
	})
	m, _, _ := newTestManager(checker)
	ctx := context.Background()

	res, err := m.Acquire(ctx, "conf-42", "alice")
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)

	res, err = m.Renew(ctx, "conf-42", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, res.Outcome)
}

func TestManager_StatusOf_NoEditPermissionRequired(t *testing.T) {
	denyAll := PermissionCheckerFunc(func(ctx context.Context, userID, resourceID string) (bool, error) {
		return false, nil
	})
	m, store, _ := newTestManager(denyAll)
	ctx := context.Background()

	_, err := store.TryAcquire(ctx, "conf-42", "alice", 900*time.Second)
	require.NoError(t, err)

	status, err := m.StatusOf(ctx, "conf-42")
	require.NoError(t, err)
	assert.Equal(t, StateActive, status.State)
	assert.Equal(t, "alice", status.HolderID)
}

func TestManager_StoreRetry_Recovers(t *testing.T) {
	clock := newFakeClock(testEpoch)
	policy := ExpiryPolicy{TTL: 900 * time.Second}
	flaky := &flakyStore{Store: NewInMemoryStore(clock, policy), failures: 2}
	m := NewManager(flaky, policy, AllowAll(), clock, zerolog.Nop(),
		WithStoreRetry(3, time.Millisecond))

	res, err := m.Acquire(context.Background(), "conf-42", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
}

func TestManager_StoreRetry_Exhausted(t *testing.T) {
	clock := newFakeClock(testEpoch)
	policy := ExpiryPolicy{TTL: 900 * time.Second}
	flaky := &flakyStore{Store: NewInMemoryStore(clock, policy), failures: 10}
	m := NewManager(flaky, policy, AllowAll(), clock, zerolog.Nop(),
		WithStoreRetry(3, time.Millisecond))

	_, err := m.Acquire(context.Background(), "conf-42", "alice")
	require.Error(t, err)
	// Never silently mapped to granted or conflict.
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestManager_ForceRelease(t *testing.T) {
	m, _, _ := newTestManager(AllowAll())
	ctx := context.Background()

	res, err := m.Acquire(ctx, "conf-42", "alice")
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)

	require.NoError(t, m.ForceRelease(ctx, "conf-42"))

	res, err = m.Acquire(ctx, "conf-42", "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
}

// TestManager_EditingScenario walks the canonical editing session: A holds
// conference 42 through a renewal, lets it lapse, and B takes over after the
// explicit release.
func TestManager_EditingScenario(t *testing.T) {
	m, _, clock := newTestManager(AllowAll())
	ctx := context.Background()

	// t=0: A acquires, window 900s.
	res, err := m.Acquire(ctx, "conf-42", "A")
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, testEpoch.Add(900*time.Second), res.ExpiresAt)

	// t=10: B conflicts, sees A and A's deadline.
	clock.Advance(10 * time.Second)
	res, err = m.Acquire(ctx, "conf-42", "B")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Equal(t, "A", res.HolderID)
	assert.Equal(t, testEpoch.Add(900*time.Second), res.ExpiresAt)

	// t=800: A renews, window slides to 1700.
	clock.Advance(790 * time.Second)
	res, err = m.Renew(ctx, "conf-42", "A")
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, testEpoch.Add(1700*time.Second), res.ExpiresAt)

	// t=1800: A releases after the window lapsed; still a clean release.
	clock.Advance(1000 * time.Second)
	res, err = m.Release(ctx, "conf-42", "A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, res.Outcome)

	// t=1801: B acquires immediately, window 2701.
	clock.Advance(time.Second)
	res, err = m.Acquire(ctx, "conf-42", "B")
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, testEpoch.Add(2701*time.Second), res.ExpiresAt)
}

func TestManager_ExpiryReclaimWithoutRelease(t *testing.T) {
	m, _, clock := newTestManager(AllowAll())
	ctx := context.Background()

	res, err := m.Acquire(ctx, "conf-42", "A")
	require.NoError(t, err)
	require.Equal(t, OutcomeGranted, res.Outcome)

	// A never renews or releases; once the TTL lapses B's acquire succeeds.
	clock.Advance(901 * time.Second)
	res, err = m.Acquire(ctx, "conf-42", "B")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, "B", res.HolderID)
}

func TestManager_ListByHolder(t *testing.T) {
	m, _, _ := newTestManager(AllowAll())
	ctx := context.Background()

	for _, id := range []string{"conf-1", "conf-2"} {
		res, err := m.Acquire(ctx, id, "alice")
		require.NoError(t, err)
		require.Equal(t, OutcomeGranted, res.Outcome)
	}

	locks, err := m.ListByHolder(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, locks, 2)
}
