package lock

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/editlock-service/internal/metrics"
)

// LifecycleHooks are the bulk-release entry points invoked by the surrounding
// user-removal and session-termination workflows. The set of resources a
// departing user holds or is assigned to edit comes from the caller's
// ownership index; the coordinator does not run that query itself.
type LifecycleHooks struct {
	manager *Manager
	logger  zerolog.Logger
}

// NewLifecycleHooks creates lifecycle hooks over the given manager.
func NewLifecycleHooks(manager *Manager, logger zerolog.Logger) *LifecycleHooks {
	return &LifecycleHooks{
		manager: manager,
		logger:  logger.With().Str("component", "lifecycle").Logger(),
	}
}

// OnUserRemoved force-releases every supplied lock of a user being deleted.
// It fails fast: the caller runs this inside its user-deletion workflow and
// must abort that workflow if a lock could survive referencing the deleted
// user.
func (h *LifecycleHooks) OnUserRemoved(ctx context.Context, userID string, resourceIDs []string) error {
	for _, resourceID := range resourceIDs {
		if err := h.manager.ForceRelease(ctx, resourceID); err != nil {
			return fmt.Errorf("force release %s for removed user %s: %w", resourceID, userID, err)
		}
	}

	metrics.RecordLifecycleRelease("user_removed", len(resourceIDs))
	h.logger.Info().
		Str("userId", userID).
		Int("released", len(resourceIDs)).
		Msg("released locks of removed user")

	return nil
}

// OnSessionEnded releases the locks an ending session held, best effort.
// Failures are logged and skipped: TTL expiry is the backstop.
func (h *LifecycleHooks) OnSessionEnded(ctx context.Context, userID string, resourceIDs []string) {
	released := 0
	for _, resourceID := range resourceIDs {
		res, err := h.manager.Release(ctx, resourceID, userID)
		if err != nil {
			h.logger.Warn().
				Err(err).
				Str("userId", userID).
				Str("resourceId", resourceID).
				Msg("session-end release failed, lock will expire by TTL")
			continue
		}
		if res.Outcome != OutcomeReleased {
			h.logger.Debug().
				Str("userId", userID).
				Str("resourceId", resourceID).
				Str("outcome", string(res.Outcome)).
				Msg("session-end release skipped")
			continue
		}
		released++
	}
	metrics.RecordLifecycleRelease("session_ended", released)
}
