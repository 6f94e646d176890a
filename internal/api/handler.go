// Package api exposes the lock coordinator over HTTP to the conference CRUD
// layer: acquire, renew, release, force release, status, and the lifecycle
// entry points used by user-removal and session-termination workflows.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/editlock-service/internal/lock"
)

// Handler handles lock API requests.
type Handler struct {
	manager *lock.Manager
	hooks   *lock.LifecycleHooks
	logger  zerolog.Logger
}

// NewHandler creates a new lock API handler with the provided dependencies.
func NewHandler(manager *lock.Manager, hooks *lock.LifecycleHooks, logger zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		hooks:   hooks,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes registers all lock routes on the provided router group. Any
// lifecycleMiddleware runs only on the lifecycle callbacks, which come from
// backend workflows rather than editing clients.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, lifecycleMiddleware ...gin.HandlerFunc) {
	locks := router.Group("/locks")
	locks.GET("", h.ListLocks)
	locks.GET("/:resource_id", h.LockStatus)
	locks.POST("/:resource_id/acquire", h.AcquireLock)
	locks.POST("/:resource_id/renew", h.RenewLock)
	locks.POST("/:resource_id/release", h.ReleaseLock)
	locks.DELETE("/:resource_id", h.ForceReleaseLock)

	users := router.Group("/users")
	users.Use(lifecycleMiddleware...)
	users.POST("/:user_id/removed", h.UserRemoved)
	users.POST("/:user_id/session-ended", h.SessionEnded)
}

// lockRequest is the body of acquire, renew, and release calls.
type lockRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// lifecycleRequest carries the externally supplied resource set for lifecycle
// cascades. The ownership index of the surrounding system decides what goes
// in here; the coordinator does not enumerate resources itself.
type lifecycleRequest struct {
	ResourceIDs []string `json:"resourceIds"`
}

// LockResponse represents the outcome of a lock operation.
type LockResponse struct {
	ResourceID string     `json:"resourceId"`
	Outcome    string     `json:"outcome"`
	HolderID   string     `json:"holderId,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Token      string     `json:"token,omitempty"`
}

// StatusResponse represents the public lock status of a resource.
type StatusResponse struct {
	ResourceID string     `json:"resourceId"`
	State      string     `json:"state"`
	HolderID   string     `json:"holderId,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AcquireLock grants an exclusive editing window, or reports who holds it.
func (h *Handler) AcquireLock(c *gin.Context) {
	resourceID := c.Param("resource_id")

	var req lockRequest
	if !h.bindRequest(c, &req) {
		return
	}

	res, err := h.manager.Acquire(c.Request.Context(), resourceID, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(statusForOutcome(res.Outcome), lockResponse(resourceID, res))
}

// RenewLock extends the caller's editing window (heartbeat).
func (h *Handler) RenewLock(c *gin.Context) {
	resourceID := c.Param("resource_id")

	var req lockRequest
	if !h.bindRequest(c, &req) {
		return
	}

	res, err := h.manager.Renew(c.Request.Context(), resourceID, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(statusForOutcome(res.Outcome), lockResponse(resourceID, res))
}

// ReleaseLock ends an editing session normally. Idempotent for the holder.
func (h *Handler) ReleaseLock(c *gin.Context) {
	resourceID := c.Param("resource_id")

	var req lockRequest
	if !h.bindRequest(c, &req) {
		return
	}

	res, err := h.manager.Release(c.Request.Context(), resourceID, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(statusForOutcome(res.Outcome), lockResponse(resourceID, res))
}

// ForceReleaseLock removes the lock regardless of holder (admin override).
func (h *Handler) ForceReleaseLock(c *gin.Context) {
	resourceID := c.Param("resource_id")

	if err := h.manager.ForceRelease(c.Request.Context(), resourceID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// LockStatus reports the public lock status of a resource.
func (h *Handler) LockStatus(c *gin.Context) {
	resourceID := c.Param("resource_id")

	status, err := h.manager.StatusOf(c.Request.Context(), resourceID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := StatusResponse{
		ResourceID: resourceID,
		State:      string(status.State),
		HolderID:   status.HolderID,
	}
	if status.State != lock.StateAbsent {
		expiresAt := status.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}

	c.JSON(http.StatusOK, resp)
}

// ListLocks returns the locks held by the user named in the holder query
// parameter.
func (h *Handler) ListLocks(c *gin.Context) {
	holder := c.Query("holder")
	if holder == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "badRequest",
			Message: "holder query parameter is required",
		})
		return
	}

	locks, err := h.manager.ListByHolder(c.Request.Context(), holder)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if locks == nil {
		locks = []*lock.Lock{}
	}

	c.JSON(http.StatusOK, gin.H{"locks": locks})
}

// UserRemoved force-releases every supplied lock of a deleted user. The
// user-deletion workflow calls this inside its own transaction boundary and
// treats failure as fatal.
func (h *Handler) UserRemoved(c *gin.Context) {
	userID := c.Param("user_id")

	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "badRequest",
			Message: err.Error(),
		})
		return
	}

	if err := h.hooks.OnUserRemoved(c.Request.Context(), userID, req.ResourceIDs); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": len(req.ResourceIDs)})
}

// SessionEnded best-effort-releases the locks an ended session held. Always
// succeeds from the caller's point of view; TTL expiry backstops anything
// that could not be released.
func (h *Handler) SessionEnded(c *gin.Context) {
	userID := c.Param("user_id")

	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "badRequest",
			Message: err.Error(),
		})
		return
	}

	h.hooks.OnSessionEnded(c.Request.Context(), userID, req.ResourceIDs)

	c.JSON(http.StatusOK, gin.H{"message": "session locks released"})
}

// bindRequest binds the JSON body or sends a 400. Returns false when the
// request was rejected.
func (h *Handler) bindRequest(c *gin.Context, req *lockRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "badRequest",
			Message: "userId is required",
		})
		return false
	}
	return true
}

// respondError maps infrastructure failures onto HTTP. Logical outcomes never
// reach here; they are carried as response data.
func (h *Handler) respondError(c *gin.Context, err error) {
	h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("lock operation failed")

	if errors.Is(err, lock.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "storeUnavailable",
			Message: "lock store is temporarily unavailable",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal",
		Message: "internal error",
	})
}

// lockResponse shapes a manager result for the wire. Conflict responses carry
// the current holder and deadline so the UI can show who holds the lock and
// until when.
func lockResponse(resourceID string, res lock.Result) LockResponse {
	resp := LockResponse{
		ResourceID: resourceID,
		Outcome:    string(res.Outcome),
		HolderID:   res.HolderID,
		Token:      res.Token,
	}
	if !res.ExpiresAt.IsZero() {
		expiresAt := res.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

// statusForOutcome maps logical outcomes onto HTTP status codes: conflicts
// and stale holders are 409, a lapsed TTL is 410 so the client knows to
// re-acquire, denied is 403.
func statusForOutcome(outcome lock.Outcome) int {
	switch outcome {
	case lock.OutcomeGranted, lock.OutcomeReleased:
		return http.StatusOK
	case lock.OutcomeConflict, lock.OutcomeNotHolder:
		return http.StatusConflict
	case lock.OutcomeExpired:
		return http.StatusGone
	case lock.OutcomeDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
