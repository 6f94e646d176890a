package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces lock hashes in Redis.
const DefaultRedisKeyPrefix = "editlock:"

// RedisStore implements Store using Redis. Each lock is a hash holding the
// full record; every transition runs as a Lua script so the read-check-write
// sequence is atomic on the server. Expiry stays a read-time comparison
// against the stored expires_at; the key TTL set alongside is only garbage
// collection and is kept well past the lock deadline.
type RedisStore struct {
	client    *redis.Client
	clock     Clock
	policy    ExpiryPolicy
	keyPrefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the key namespace for lock hashes.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// NewRedisStore creates a Redis-backed lock store.
func NewRedisStore(client *redis.Client, clock Clock, policy ExpiryPolicy, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		clock:     clock,
		policy:    policy,
		keyPrefix: DefaultRedisKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(resourceID string) string {
	return s.keyPrefix + resourceID
}

// acquireScript: ARGV = now_ms, holder, token, ttl_ms, skew_ms.
// Returns {0, holder, expires_at} on conflict, {1, expires_at} on grant.
var acquireScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local skew = tonumber(ARGV[5])
	local cur = redis.call("HMGET", KEYS[1], "holder_id", "expires_at", "acquired_at")
	if cur[1] and tonumber(cur[2]) + skew >= now and cur[1] ~= ARGV[2] then
		return {0, cur[1], cur[2]}
	end
	local acquired = now
	if cur[1] == ARGV[2] and tonumber(cur[2]) + skew >= now then
		acquired = tonumber(cur[3])
	end
	local expires = now + tonumber(ARGV[4])
	redis.call("HSET", KEYS[1],
		"holder_id", ARGV[2], "token", ARGV[3],
		"acquired_at", acquired, "last_renewed_at", now, "expires_at", expires)
	redis.call("PEXPIRE", KEYS[1], 2 * tonumber(ARGV[4]) + skew)
	return {1, expires}
`)

// TryAcquire implements Store.TryAcquire.
func (s *RedisStore) TryAcquire(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error) {
	now := s.clock.Now()
	token := uuid.NewString()

	reply, err := acquireScript.Run(ctx, s.client, []string{s.key(resourceID)},
		now.UnixMilli(), holderID, token, ttl.Milliseconds(), s.policy.SkewTolerance.Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}

	if granted, _ := reply[0].(int64); granted == 1 {
		expires, err := replyMillis(reply[1])
		if err != nil {
			return Result{}, fmt.Errorf("acquire lock: %w", err)
		}
		return Result{
			Outcome:   OutcomeGranted,
			HolderID:  holderID,
			ExpiresAt: expires,
			Token:     token,
		}, nil
	}

	holder, _ := reply[1].(string)
	expires, err := replyMillis(reply[2])
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}
	return Result{Outcome: OutcomeConflict, HolderID: holder, ExpiresAt: expires}, nil
}

// renewScript: ARGV = now_ms, holder, ttl_ms, skew_ms.
// Returns {-1, holder} when not held by the caller, {-2} when expired,
// {1, expires_at, token} on success.
var renewScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local cur = redis.call("HMGET", KEYS[1], "holder_id", "expires_at", "token")
	if cur[1] ~= ARGV[2] then
		local h = cur[1]
		if not h then h = "" end
		return {-1, h}
	end
	if tonumber(cur[2]) + tonumber(ARGV[4]) < now then
		return {-2}
	end
	local expires = now + tonumber(ARGV[3])
	redis.call("HSET", KEYS[1], "last_renewed_at", now, "expires_at", expires)
	redis.call("PEXPIRE", KEYS[1], 2 * tonumber(ARGV[3]) + tonumber(ARGV[4]))
	return {1, expires, cur[3]}
`)

// Renew implements Store.Renew.
func (s *RedisStore) Renew(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Result, error) {
	reply, err := renewScript.Run(ctx, s.client, []string{s.key(resourceID)},
		s.clock.Now().UnixMilli(), holderID, ttl.Milliseconds(), s.policy.SkewTolerance.Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("renew lock: %w", err)
	}

	switch code, _ := reply[0].(int64); code {
	case 1:
		expires, err := replyMillis(reply[1])
		if err != nil {
			return Result{}, fmt.Errorf("renew lock: %w", err)
		}
		token, _ := reply[2].(string)
		return Result{
			Outcome:   OutcomeGranted,
			HolderID:  holderID,
			ExpiresAt: expires,
			Token:     token,
		}, nil
	case -2:
		return Result{Outcome: OutcomeExpired}, nil
	default:
		holder, _ := reply[1].(string)
		return Result{Outcome: OutcomeNotHolder, HolderID: holder}, nil
	}
}

// releaseScript: ARGV = holder.
// Returns {1} when released (or already absent), {0, holder} when held by
// someone else.
var releaseScript = redis.NewScript(`
	local holder = redis.call("HGET", KEYS[1], "holder_id")
	if not holder then
		return {1}
	end
	if holder ~= ARGV[1] then
		return {0, holder}
	end
	redis.call("DEL", KEYS[1])
	return {1}
`)

// Release implements Store.Release.
func (s *RedisStore) Release(ctx context.Context, resourceID, holderID string) (Result, error) {
	reply, err := releaseScript.Run(ctx, s.client, []string{s.key(resourceID)}, holderID).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("release lock: %w", err)
	}

	if released, _ := reply[0].(int64); released == 1 {
		return Result{Outcome: OutcomeReleased}, nil
	}
	holder, _ := reply[1].(string)
	return Result{Outcome: OutcomeNotHolder, HolderID: holder}, nil
}

// ForceRelease implements Store.ForceRelease.
func (s *RedisStore) ForceRelease(ctx context.Context, resourceID string) error {
	if err := s.client.Del(ctx, s.key(resourceID)).Err(); err != nil {
		return fmt.Errorf("force release lock: %w", err)
	}
	return nil
}

// Status implements Store.Status.
func (s *RedisStore) Status(ctx context.Context, resourceID string) (Status, error) {
	vals, err := s.client.HMGet(ctx, s.key(resourceID), "holder_id", "expires_at").Result()
	if err != nil {
		return Status{}, fmt.Errorf("query lock status: %w", err)
	}

	holder, ok := vals[0].(string)
	if !ok {
		return Status{State: StateAbsent}, nil
	}
	expires, err := replyMillis(vals[1])
	if err != nil {
		return Status{}, fmt.Errorf("query lock status: %w", err)
	}

	state := StateActive
	if s.policy.IsExpired(expires, s.clock.Now()) {
		state = StateExpired
	}
	return Status{State: state, HolderID: holder, ExpiresAt: expires}, nil
}

// ListByHolder implements Store.ListByHolder. Scans the lock namespace; the
// set of concurrently edited conferences is small, so a SCAN is acceptable
// for the admin surface this serves.
func (s *RedisStore) ListByHolder(ctx context.Context, holderID string) ([]*Lock, error) {
	var locks []*Lock

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.client.HMGet(ctx, key,
			"holder_id", "token", "acquired_at", "last_renewed_at", "expires_at",
		).Result()
		if err != nil {
			return nil, fmt.Errorf("read lock %s: %w", key, err)
		}

		holder, ok := vals[0].(string)
		if !ok || holder != holderID {
			continue
		}

		l := &Lock{
			ResourceID: key[len(s.keyPrefix):],
			HolderID:   holder,
		}
		l.Token, _ = vals[1].(string)
		if l.AcquiredAt, err = replyMillis(vals[2]); err != nil {
			return nil, fmt.Errorf("read lock %s: %w", key, err)
		}
		if l.LastRenewedAt, err = replyMillis(vals[3]); err != nil {
			return nil, fmt.Errorf("read lock %s: %w", key, err)
		}
		if l.ExpiresAt, err = replyMillis(vals[4]); err != nil {
			return nil, fmt.Errorf("read lock %s: %w", key, err)
		}
		locks = append(locks, l)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan locks: %w", err)
	}

	return locks, nil
}

// replyMillis converts a script or hash reply (integer or string form) into a
// timestamp.
func replyMillis(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case int64:
		return time.UnixMilli(t), nil
	case string:
		var ms int64
		if _, err := fmt.Sscanf(t, "%d", &ms); err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", t, err)
		}
		return time.UnixMilli(ms), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp reply %T", v)
	}
}

var _ Store = (*RedisStore)(nil)
