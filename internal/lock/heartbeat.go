package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Heartbeat keeps a held edit lock alive for an in-process editing session by
// renewing it on a fixed cadence. The moment a renew comes back with a
// definitive loss (not_holder, expired, permission_denied) the on-lost
// callback fires and the loop stops; transient store failures are logged and
// retried on the next tick, since the TTL leaves headroom for missed beats.
type Heartbeat struct {
	manager    *Manager
	resourceID string
	userID     string
	logger     zerolog.Logger

	interval time.Duration
	onLost   func(Outcome)

	lost   atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// HeartbeatOption configures a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithInterval overrides the renew cadence. Must stay strictly below the lock
// TTL; the default is the policy's HeartbeatInterval (TTL/3).
func WithInterval(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) {
		h.interval = d
	}
}

// WithOnLost sets a callback invoked once when the lock is definitively lost,
// with the renew outcome that reported the loss.
func WithOnLost(fn func(Outcome)) HeartbeatOption {
	return func(h *Heartbeat) {
		h.onLost = fn
	}
}

// NewHeartbeat creates a heartbeat for a lock the user already holds on the
// resource.
func NewHeartbeat(manager *Manager, resourceID, userID string, logger zerolog.Logger, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		manager:    manager,
		resourceID: resourceID,
		userID:     userID,
		logger: logger.With().
			Str("component", "heartbeat").
			Str("resourceId", resourceID).
			Str("userId", userID).
			Logger(),
		interval: manager.Policy().HeartbeatInterval(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins renewing until Stop is called or the lock is lost.
func (h *Heartbeat) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.run(ctx)
}

// Stop ends the heartbeat and releases the lock if it is still held.
func (h *Heartbeat) Stop(ctx context.Context) {
	close(h.stopCh)
	h.wg.Wait()

	if h.lost.Load() {
		return
	}
	if _, err := h.manager.Release(ctx, h.resourceID, h.userID); err != nil {
		h.logger.Warn().Err(err).Msg("release on stop failed, lock will expire by TTL")
	}
}

// Lost reports whether the lock was definitively lost.
func (h *Heartbeat) Lost() bool {
	return h.lost.Load()
}

func (h *Heartbeat) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			if !h.renew(ctx) {
				return
			}
		}
	}
}

// renew performs one heartbeat. Returns false when the loop should stop.
func (h *Heartbeat) renew(ctx context.Context) bool {
	res, err := h.manager.Renew(ctx, h.resourceID, h.userID)
	if err != nil {
		h.logger.Warn().Err(err).Msg("heartbeat renew failed, retrying next tick")
		return true
	}

	if res.Outcome == OutcomeGranted {
		h.logger.Debug().Time("expiresAt", res.ExpiresAt).Msg("lock renewed")
		return true
	}

	h.logger.Warn().Str("outcome", string(res.Outcome)).Msg("lock lost")
	h.lost.Store(true)
	if h.onLost != nil {
		h.onLost(res.Outcome)
	}
	return false
}
