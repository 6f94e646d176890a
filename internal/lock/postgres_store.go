package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL. One row per resource:
//
//	CREATE TABLE edit_locks (
//	    resource_id     TEXT PRIMARY KEY,
//	    holder_id       TEXT NOT NULL,
//	    token           TEXT NOT NULL,
//	    acquired_at     TIMESTAMPTZ NOT NULL,
//	    last_renewed_at TIMESTAMPTZ NOT NULL,
//	    expires_at      TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX edit_locks_holder_idx ON edit_locks (holder_id);
//
// The database clock is authoritative: every transition is a single
// conditional statement guarded by NOW(), so concurrent callers across
// processes are serialized by the row itself.
type PostgresStore struct {
	db     *pgxpool.Pool
	policy ExpiryPolicy
}

// NewPostgresStore creates a PostgreSQL-backed lock store.
func NewPostgresStore(db *pgxpool.Pool, policy ExpiryPolicy) *PostgresStore {
	return &PostgresStore{db: db, policy: policy}
}

const acquireQuery = `
	INSERT INTO edit_locks (resource_id, holder_id, token, acquired_at, last_renewed_at, expires_at)
	VALUES ($1, $2, $3, NOW(), NOW(), NOW() + make_interval(secs => $4))
	ON CONFLICT (resource_id) DO UPDATE SET
		holder_id = EXCLUDED.holder_id,
		token = EXCLUDED.token,
		acquired_at = CASE
			WHEN edit_locks.holder_id = EXCLUDED.holder_id
			     AND edit_locks.expires_at >= NOW() - make_interval(secs => $5)
			THEN edit_locks.acquired_at
			ELSE NOW()
		END,
		last_renewed_at = NOW(),
		expires_at = EXCLUDED.expires_at
	WHERE edit_locks.holder_id = EXCLUDED.holder_id
	   OR edit_locks.expires_at < NOW() - make_interval(secs => $5)
	RETURNING expires_at, token
`

// TryAcquire implements Store.TryAcquire. The INSERT ... ON CONFLICT DO UPDATE
// either creates the row, reclaims an expired one, or refreshes the caller's
// own lock; an unexpired row held by someone else makes the WHERE clause fail
// and no row comes back.
func (s *PostgresStore) TryAcquire(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error) {
	skew := s.policy.SkewTolerance.Seconds()

	for attempt := 0; attempt < 2; attempt++ {
		var (
			expiresAt time.Time
			token     string
		)
		err := s.db.QueryRow(ctx, acquireQuery,
			resourceID, holderID, uuid.NewString(), ttl.Seconds(), skew,
		).Scan(&expiresAt, &token)
		if err == nil {
			return Result{
				Outcome:   OutcomeGranted,
				HolderID:  holderID,
				ExpiresAt: expiresAt,
				Token:     token,
			}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Result{}, fmt.Errorf("acquire lock: %w", err)
		}

		// No row returned: an unexpired lock belongs to someone else. Fetch it
		// for the conflict payload. If it vanished in between (released
		// concurrently), the resource is free again and the acquire is retried
		// once.
		var (
			holder    string
			heldUntil time.Time
		)
		err = s.db.QueryRow(ctx,
			`SELECT holder_id, expires_at FROM edit_locks WHERE resource_id = $1`,
			resourceID,
		).Scan(&holder, &heldUntil)
		if err == nil {
			return Result{
				Outcome:   OutcomeConflict,
				HolderID:  holder,
				ExpiresAt: heldUntil,
			}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Result{}, fmt.Errorf("read conflicting lock: %w", err)
		}
	}

	return Result{Outcome: OutcomeConflict}, nil
}

// Renew implements Store.Renew.
func (s *PostgresStore) Renew(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error) {
	skew := s.policy.SkewTolerance.Seconds()

	var (
		expiresAt time.Time
		token     string
	)
	err := s.db.QueryRow(ctx, `
		UPDATE edit_locks
		SET last_renewed_at = NOW(), expires_at = NOW() + make_interval(secs => $3)
		WHERE resource_id = $1 AND holder_id = $2
		  AND expires_at >= NOW() - make_interval(secs => $4)
		RETURNING expires_at, token
	`, resourceID, holderID, ttl.Seconds(), skew).Scan(&expiresAt, &token)
	if err == nil {
		return Result{
			Outcome:   OutcomeGranted,
			HolderID:  holderID,
			ExpiresAt: expiresAt,
			Token:     token,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Result{}, fmt.Errorf("renew lock: %w", err)
	}

	// Distinguish a stale client (wrong or missing holder) from a lapsed TTL.
	var (
		holder  string
		expired bool
	)
	err = s.db.QueryRow(ctx, `
		SELECT holder_id, expires_at < NOW() - make_interval(secs => $2)
		FROM edit_locks WHERE resource_id = $1
	`, resourceID, skew).Scan(&holder, &expired)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{Outcome: OutcomeNotHolder}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("classify failed renew: %w", err)
	}
	if holder == holderID && expired {
		return Result{Outcome: OutcomeExpired}, nil
	}
	return Result{Outcome: OutcomeNotHolder, HolderID: holder}, nil
}

// Release implements Store.Release.
func (s *PostgresStore) Release(ctx context.Context, resourceID, holderID string) (Result, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM edit_locks WHERE resource_id = $1 AND holder_id = $2`,
		resourceID, holderID,
	)
	if err != nil {
		return Result{}, fmt.Errorf("release lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return Result{Outcome: OutcomeReleased}, nil
	}

	var holder string
	err = s.db.QueryRow(ctx,
		`SELECT holder_id FROM edit_locks WHERE resource_id = $1`,
		resourceID,
	).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		// Nothing to release: idempotent success.
		return Result{Outcome: OutcomeReleased}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("classify failed release: %w", err)
	}
	return Result{Outcome: OutcomeNotHolder, HolderID: holder}, nil
}

// ForceRelease implements Store.ForceRelease.
func (s *PostgresStore) ForceRelease(ctx context.Context, resourceID string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM edit_locks WHERE resource_id = $1`, resourceID,
	); err != nil {
		return fmt.Errorf("force release lock: %w", err)
	}
	return nil
}

// Status implements Store.Status.
func (s *PostgresStore) Status(ctx context.Context, resourceID string) (Status, error) {
	var (
		holder    string
		expiresAt time.Time
		expired   bool
	)
	err := s.db.QueryRow(ctx, `
		SELECT holder_id, expires_at, expires_at < NOW() - make_interval(secs => $2)
		FROM edit_locks WHERE resource_id = $1
	`, resourceID, s.policy.SkewTolerance.Seconds()).Scan(&holder, &expiresAt, &expired)
	if errors.Is(err, pgx.ErrNoRows) {
		return Status{State: StateAbsent}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("query lock status: %w", err)
	}

	state := StateActive
	if expired {
		state = StateExpired
	}
	return Status{State: state, HolderID: holder, ExpiresAt: expiresAt}, nil
}

// ListByHolder implements Store.ListByHolder.
func (s *PostgresStore) ListByHolder(ctx context.Context, holderID string) ([]*Lock, error) {
	rows, err := s.db.Query(ctx, `
		SELECT resource_id, holder_id, token, acquired_at, last_renewed_at, expires_at
		FROM edit_locks WHERE holder_id = $1
		ORDER BY resource_id
	`, holderID)
	if err != nil {
		return nil, fmt.Errorf("query locks by holder: %w", err)
	}
	defer rows.Close()

	var locks []*Lock
	for rows.Next() {
		l := &Lock{}
		if err := rows.Scan(
			&l.ResourceID, &l.HolderID, &l.Token,
			&l.AcquiredAt, &l.LastRenewedAt, &l.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return locks, nil
}

var _ Store = (*PostgresStore)(nil)
