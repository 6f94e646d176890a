package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a mutex-guarded implementation of Store for tests,
// development, and single-process deployments. Serialization happens under one
// mutex, so the conditional-write contract holds trivially.
type InMemoryStore struct {
	mu     sync.Mutex
	locks  map[string]*Lock
	clock  Clock
	policy ExpiryPolicy
}

// NewInMemoryStore creates an in-memory lock store using the given clock and
// expiry policy.
func NewInMemoryStore(clock Clock, policy ExpiryPolicy) *InMemoryStore {
	return &InMemoryStore{
		locks:  make(map[string]*Lock),
		clock:  clock,
		policy: policy,
	}
}

// TryAcquire implements Store.TryAcquire.
func (s *InMemoryStore) TryAcquire(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	existing, ok := s.locks[resourceID]

	if ok && !s.policy.IsExpired(existing.ExpiresAt, now) && existing.HolderID != holderID {
		return Result{
			Outcome:   OutcomeConflict,
			HolderID:  existing.HolderID,
			ExpiresAt: existing.ExpiresAt,
		}, nil
	}

	// Absent, expired, or re-acquire by the same holder. A new token is
	// issued in every case; acquiredAt survives only a live re-acquire.
	acquiredAt := now
	if ok && existing.HolderID == holderID && !s.policy.IsExpired(existing.ExpiresAt, now) {
		acquiredAt = existing.AcquiredAt
	}

	l := &Lock{
		ResourceID:    resourceID,
		HolderID:      holderID,
		Token:         uuid.NewString(),
		AcquiredAt:    acquiredAt,
		LastRenewedAt: now,
		ExpiresAt:     now.Add(ttl),
	}
	s.locks[resourceID] = l

	return Result{
		Outcome:   OutcomeGranted,
		HolderID:  holderID,
		ExpiresAt: l.ExpiresAt,
		Token:     l.Token,
	}, nil
}

// Renew implements Store.Renew.
func (s *InMemoryStore) Renew(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	existing, ok := s.locks[resourceID]

	if !ok || existing.HolderID != holderID {
		return Result{Outcome: OutcomeNotHolder}, nil
	}
	if s.policy.IsExpired(existing.ExpiresAt, now) {
		// Renewing an expired lock must not resurrect it; the editor has to
		// re-acquire.
		return Result{Outcome: OutcomeExpired}, nil
	}

	existing.LastRenewedAt = now
	existing.ExpiresAt = now.Add(ttl)

	return Result{
		Outcome:   OutcomeGranted,
		HolderID:  holderID,
		ExpiresAt: existing.ExpiresAt,
		Token:     existing.Token,
	}, nil
}

// Release implements Store.Release.
func (s *InMemoryStore) Release(ctx context.Context, resourceID, holderID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[resourceID]
	if !ok {
		return Result{Outcome: OutcomeReleased}, nil
	}
	if existing.HolderID != holderID {
		return Result{Outcome: OutcomeNotHolder, HolderID: existing.HolderID}, nil
	}

	delete(s.locks, resourceID)
	return Result{Outcome: OutcomeReleased}, nil
}

// ForceRelease implements Store.ForceRelease.
func (s *InMemoryStore) ForceRelease(ctx context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, resourceID)
	return nil
}

// Status implements Store.Status.
func (s *InMemoryStore) Status(ctx context.Context, resourceID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[resourceID]
	if !ok {
		return Status{State: StateAbsent}, nil
	}

	state := StateActive
	if s.policy.IsExpired(existing.ExpiresAt, s.clock.Now()) {
		state = StateExpired
	}

	return Status{
		State:     state,
		HolderID:  existing.HolderID,
		ExpiresAt: existing.ExpiresAt,
	}, nil
}

// ListByHolder implements Store.ListByHolder.
func (s *InMemoryStore) ListByHolder(ctx context.Context, holderID string) ([]*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var locks []*Lock
	for _, l := range s.locks {
		if l.HolderID == holderID {
			copied := *l
			locks = append(locks, &copied)
		}
	}
	return locks, nil
}

// Len returns the number of stored lock rows, expired rows included.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

var _ Store = (*InMemoryStore)(nil)
