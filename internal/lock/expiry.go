package lock

import "time"

const (
	// DefaultTTL is the editing window granted on acquire. An editor that
	// stops renewing loses the lock after this long.
	DefaultTTL = 15 * time.Minute

	// DefaultSkewTolerance is how much clock drift between processes is
	// treated as non-expiring.
	DefaultSkewTolerance = 2 * time.Second
)

// ExpiryPolicy centralizes TTL values and expiry checks so all deadline logic
// lives in one place. The zero value is not usable; construct with
// DefaultExpiryPolicy or fill both fields.
type ExpiryPolicy struct {
	// TTL is the lock lifetime granted on acquire and on each renew.
	TTL time.Duration

	// SkewTolerance widens the expiry check: a deadline within this much of
	// now is still treated as live, absorbing clock drift between the store
	// and its callers.
	SkewTolerance time.Duration
}

// DefaultExpiryPolicy returns the policy used for conference edit locks.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{TTL: DefaultTTL, SkewTolerance: DefaultSkewTolerance}
}

// IsExpired reports whether a lock with the given deadline is expired at now.
func (p ExpiryPolicy) IsExpired(expiresAt, now time.Time) bool {
	return now.Sub(expiresAt) > p.SkewTolerance
}

// Deadline computes the expiry timestamp for a lock granted or renewed at now.
func (p ExpiryPolicy) Deadline(now time.Time) time.Time {
	return now.Add(p.TTL)
}

// HeartbeatInterval is the recommended renew cadence: TTL/3, so a single
// missed heartbeat does not cost the editor the lock.
func (p ExpiryPolicy) HeartbeatInterval() time.Duration {
	return p.TTL / 3
}
