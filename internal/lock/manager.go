package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/editlock-service/internal/metrics"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// Manager orchestrates acquire, renew, release, and status over a Store,
// enforcing edit permissions before any lock is taken. All dependencies are
// injected so tests can run against fake clocks and stores.
type Manager struct {
	store  Store
	policy ExpiryPolicy
	perms  PermissionChecker
	clock  Clock
	logger zerolog.Logger

	retryAttempts int
	retryBackoff  time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStoreRetry overrides the bounded retry applied to transient store
// failures before they surface as ErrStoreUnavailable.
func WithStoreRetry(attempts int, backoff time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retryAttempts = attempts
		m.retryBackoff = backoff
	}
}

// NewManager creates a lock manager.
func NewManager(store Store, policy ExpiryPolicy, perms PermissionChecker, clock Clock, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		policy:        policy,
		perms:         perms,
		clock:         clock,
		logger:        logger.With().Str("component", "lock").Logger(),
		retryAttempts: defaultRetryAttempts,
		retryBackoff:  defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the expiry policy the manager grants locks under.
func (m *Manager) Policy() ExpiryPolicy { return m.policy }

// Acquire grants the user an exclusive editing window on the resource, or
// reports the conflicting holder. Permission is checked before the store is
// touched, so a denied user learns nothing a public status read would not
// already expose.
func (m *Manager) Acquire(ctx context.Context, resourceID, userID string) (Result, error) {
	allowed, err := m.perms.CanEdit(ctx, userID, resourceID)
	if err != nil {
		return Result{}, fmt.Errorf("check edit permission: %w", err)
	}
	if !allowed {
		metrics.RecordLockOperation("acquire", string(OutcomeDenied))
		m.logger.Debug().
			Str("resourceId", resourceID).
			Str("userId", userID).
			Msg("acquire denied: no edit permission")
		return Result{Outcome: OutcomeDenied}, nil
	}

	res, err := m.withRetry(ctx, "acquire", func(ctx context.Context) (Result, error) {
		return m.store.TryAcquire(ctx, resourceID, userID, m.policy.TTL)
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordLockOperation("acquire", string(res.Outcome))
	event := m.logger.Info()
	if res.Outcome == OutcomeConflict {
		event = m.logger.Debug().Str("conflictingHolder", res.HolderID)
	}
	event.
		Str("resourceId", resourceID).
		Str("userId", userID).
		Str("outcome", string(res.Outcome)).
		Time("expiresAt", res.ExpiresAt).
		Msg("acquire lock")

	return res, nil
}

// Renew extends the caller's editing window. Editing clients call this on a
// heartbeat cadence strictly below the TTL; a failed renew is reported, never
// swallowed, so the client can warn the user before the lock is lost.
func (m *Manager) Renew(ctx context.Context, resourceID, userID string) (Result, error) {
	allowed, err := m.perms.CanEdit(ctx, userID, resourceID)
	if err != nil {
		return Result{}, fmt.Errorf("check edit permission: %w", err)
	}
	if !allowed {
		metrics.RecordLockOperation("renew", string(OutcomeDenied))
		return Result{Outcome: OutcomeDenied}, nil
	}

	res, err := m.withRetry(ctx, "renew", func(ctx context.Context) (Result, error) {
		return m.store.Renew(ctx, resourceID, userID, m.policy.TTL)
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordLockOperation("renew", string(res.Outcome))
	if res.Outcome != OutcomeGranted {
		m.logger.Warn().
			Str("resourceId", resourceID).
			Str("userId", userID).
			Str("outcome", string(res.Outcome)).
			Msg("renew failed")
	}

	return res, nil
}

// Release ends an editing session normally. Idempotent for the true holder:
// releasing an already-released lock succeeds.
func (m *Manager) Release(ctx context.Context, resourceID, userID string) (Result, error) {
	res, err := m.withRetry(ctx, "release", func(ctx context.Context) (Result, error) {
		return m.store.Release(ctx, resourceID, userID)
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordLockOperation("release", string(res.Outcome))
	m.logger.Info().
		Str("resourceId", resourceID).
		Str("userId", userID).
		Str("outcome", string(res.Outcome)).
		Msg("release lock")

	return res, nil
}

// ForceRelease removes the lock regardless of holder. Reserved for
// administrative override and lifecycle cleanup; every use is audit-logged.
func (m *Manager) ForceRelease(ctx context.Context, resourceID string) error {
	_, err := m.withRetry(ctx, "force_release", func(ctx context.Context) (Result, error) {
		return Result{Outcome: OutcomeReleased}, m.store.ForceRelease(ctx, resourceID)
	})
	if err != nil {
		return err
	}

	metrics.RecordLockOperation("force_release", string(OutcomeReleased))
	m.logger.Info().
		Str("resourceId", resourceID).
		Msg("lock force released")

	return nil
}

// StatusOf reports the resource's public lock status. Requires only read
// access to the resource, not edit permission.
func (m *Manager) StatusOf(ctx context.Context, resourceID string) (Status, error) {
	start := m.clock.Now()
	status, err := m.store.Status(ctx, resourceID)
	metrics.ObserveStoreOperation("status", m.clock.Now().Sub(start).Seconds())
	if err != nil {
		return Status{}, fmt.Errorf("%w: status: %v", ErrStoreUnavailable, err)
	}
	return status, nil
}

// ListByHolder returns the locks a user currently holds.
func (m *Manager) ListByHolder(ctx context.Context, userID string) ([]*Lock, error) {
	start := m.clock.Now()
	locks, err := m.store.ListByHolder(ctx, userID)
	metrics.ObserveStoreOperation("list_by_holder", m.clock.Now().Sub(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: list by holder: %v", ErrStoreUnavailable, err)
	}
	return locks, nil
}

// withRetry runs a store mutation with bounded backoff. Transient store
// failures are retried; the final failure surfaces as ErrStoreUnavailable and
// is never mapped to a logical outcome.
func (m *Manager) withRetry(ctx context.Context, op string, fn func(context.Context) (Result, error)) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < m.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * m.retryBackoff):
			}
		}

		start := m.clock.Now()
		res, err := fn(ctx)
		metrics.ObserveStoreOperation(op, m.clock.Now().Sub(start).Seconds())
		if err == nil {
			return res, nil
		}
		lastErr = err
		m.logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt+1).
			Msg("lock store operation failed")
	}

	return Result{}, fmt.Errorf("%w: %s after %d attempts: %v", ErrStoreUnavailable, op, m.retryAttempts, lastErr)
}
