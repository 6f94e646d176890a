// Package lock implements the edit-lock coordinator: exclusive, time-bounded
// editing rights over a shared record (a conference), granted to one user at a
// time, renewed by heartbeat, and released on completion, administrative
// override, or user removal.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached
	// after retries. It is never silently mapped to a logical outcome.
	ErrStoreUnavailable = errors.New("lock store unavailable")
)

// Outcome classifies the result of a lock operation. Logical outcomes are
// ordinary data, not errors: the HTTP layer decides how to surface them.
type Outcome string

const (
	// OutcomeGranted means the caller now holds the lock.
	OutcomeGranted Outcome = "granted"
	// OutcomeConflict means another unexpired holder exists.
	OutcomeConflict Outcome = "conflict"
	// OutcomeNotHolder means a renew or release was attempted by a user who
	// does not hold the lock.
	OutcomeNotHolder Outcome = "not_holder"
	// OutcomeExpired means a renew was attempted after the TTL lapsed.
	OutcomeExpired Outcome = "expired"
	// OutcomeReleased means the lock no longer exists for this resource.
	OutcomeReleased Outcome = "released"
	// OutcomeDenied means the caller lacks edit rights on the resource.
	OutcomeDenied Outcome = "permission_denied"
)

// Result is the outcome of an acquire, renew, or release operation.
type Result struct {
	Outcome Outcome

	// HolderID is the user now holding the lock when granted, or the
	// conflicting holder when the outcome is conflict.
	HolderID string

	// ExpiresAt is the lock deadline: the caller's own on grant, the
	// conflicting holder's on conflict. Zero otherwise.
	ExpiresAt time.Time

	// Token is the opaque version marker issued on grant. A new token is
	// issued on every successful acquire, including reclaim of an expired
	// lock; renew keeps the token stable.
	Token string
}

// State classifies a resource's lock status at read time. Expiry is a derived
// classification of a stored row, never a stored state of its own.
type State string

const (
	// StateAbsent means no lock row exists for the resource.
	StateAbsent State = "absent"
	// StateActive means an unexpired lock row exists.
	StateActive State = "active"
	// StateExpired means a row exists but its deadline has passed; for
	// acquisition purposes it is equivalent to absent.
	StateExpired State = "expired"
)

// Status is the public lock status of a resource.
type Status struct {
	State State

	// HolderID is the active holder, or the last holder when expired.
	HolderID string

	// ExpiresAt is set whenever a row exists, regardless of classification.
	ExpiresAt time.Time
}

// Lock is the persistent lock record, one row per protected resource.
type Lock struct {
	ResourceID    string    `json:"resourceId"`
	HolderID      string    `json:"holderId"`
	Token         string    `json:"token"`
	AcquiredAt    time.Time `json:"acquiredAt"`
	LastRenewedAt time.Time `json:"lastRenewedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Store defines atomic persistence for lock records. Implementations must
// serialize all mutation at the storage layer: two simultaneous TryAcquire
// calls for the same resource must never both be granted. No operation blocks
// or queues; every call returns a definitive outcome immediately.
type Store interface {
	// TryAcquire atomically inserts a lock if none exists, reclaims an expired
	// one, or refreshes the TTL when the holder already matches (idempotent
	// re-acquire). An unexpired lock held by someone else yields a conflict
	// carrying the current holder and deadline.
	TryAcquire(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error)

	// Renew extends the deadline only if the stored lock is unexpired and the
	// holder matches; otherwise it fails without mutating state.
	Renew(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error)

	// Release deletes the lock only if the holder matches. Releasing a
	// nonexistent resource is a successful no-op.
	Release(ctx context.Context, resourceID, holderID string) (Result, error)

	// ForceRelease deletes the lock unconditionally.
	ForceRelease(ctx context.Context, resourceID string) error

	// Status reports the resource's lock classification at read time.
	Status(ctx context.Context, resourceID string) (Status, error)

	// ListByHolder returns the locks a user currently holds, expired rows
	// included. Read-only; used by the admin surface and lifecycle cleanup.
	ListByHolder(ctx context.Context, holderID string) ([]*Lock, error)
}
