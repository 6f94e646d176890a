package lock

import "context"

// PermissionChecker answers whether a user may edit a resource. The actual
// role and editor-assignment model lives in the surrounding system; the
// coordinator only consumes this capability.
type PermissionChecker interface {
	CanEdit(ctx context.Context, userID, resourceID string) (bool, error)
}

// PermissionCheckerFunc adapts a function to the PermissionChecker interface.
type PermissionCheckerFunc func(ctx context.Context, userID, resourceID string) (bool, error)

// CanEdit implements PermissionChecker.
func (f PermissionCheckerFunc) CanEdit(ctx context.Context, userID, resourceID string) (bool, error) {
	return f(ctx, userID, resourceID)
}

// AllowAll returns a checker that grants every user edit rights. Used when
// authorization is enforced upstream of the coordinator.
func AllowAll() PermissionChecker {
	return PermissionCheckerFunc(func(ctx context.Context, userID, resourceID string) (bool, error) {
		return true, nil
	})
}
