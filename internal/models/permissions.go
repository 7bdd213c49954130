package models

import "regexp"

// Well-known permissions. Keys may carry others as long as they are well formed.
const (
	PermissionKeysRead     = "keys.read"
	PermissionKeysWrite    = "keys.write"
	PermissionEventsRead   = "events.read"
	PermissionLockoutsRead = "lockouts.read"

	// Wildcard grants every permission (admin only)
	PermissionAll = "*"
)

// AdminOnlyPermissions require the admin role to be granted to a key.
var AdminOnlyPermissions = map[string]bool{
	PermissionEventsRead:   true,
	PermissionLockoutsRead: true,
	PermissionAll:          true,
}

var permissionPattern = regexp.MustCompile(`^[a-z][a-z_]*(\.[a-z_]+)*$`)

// IsAdminOnlyPermission checks if a permission requires admin role
func IsAdminOnlyPermission(permission string) bool {
	return AdminOnlyPermissions[permission]
}

// CanRoleGrantPermission checks if a user's role allows them to put a permission on a key
func CanRoleGrantPermission(role, permission string) bool {
	if AdminOnlyPermissions[permission] {
		return role == RoleAdmin
	}
	return true
}

// ValidatePermissions rejects empty sets and malformed names.
func ValidatePermissions(permissions []string) error {
	if len(permissions) == 0 {
		return ErrBadRequest
	}
	for _, p := range permissions {
		if p == PermissionAll {
			continue
		}
		if !permissionPattern.MatchString(p) {
			return ErrBadRequest
		}
	}
	return nil
}

// HasPermissions returns true iff every required permission is held,
// or the held set contains the wildcard.
func HasPermissions(held []string, required ...string) bool {
	set := make(map[string]struct{}, len(held))
	for _, p := range held {
		if p == PermissionAll {
			return true
		}
		set[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
