// Package domain defines the user record, the role enum, the error taxonomy,
// and the Mongo-backed user directory.
package domain

import "fmt"

// Role is a closed two-value enum. Keeping it a distinct type (rather than an
// open string) forces callers through ParseRole and keeps a typo from silently
// granting or denying privileges.
type Role string

const (
	// RoleAdmin is authorized for directory-wide management operations.
	RoleAdmin Role = "admin"
	// RoleUser is a standard account with no elevated privileges.
	RoleUser Role = "user"
)

// ParseRole validates a raw role string against the enum.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	default:
		return "", fmt.Errorf("%w: role must be %q or %q", ErrValidation, RoleUser, RoleAdmin)
	}
}

// IsAdmin reports whether the given user may run admin-only operations. A nil
// user (no account) is never an admin; callers render the same denial message
// for both cases so the reply leaks nothing about why.
func IsAdmin(user *User) bool {
	return user != nil && user.Role == RoleAdmin
}

// RequireAdmin returns ErrUnauthorized unless the user holds the admin role.
func RequireAdmin(user *User) error {
	if !IsAdmin(user) {
		return ErrUnauthorized
	}

	return nil
}
