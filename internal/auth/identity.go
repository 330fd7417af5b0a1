package auth

import "errors"

// Role is the authorization level of a user.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

var (
	ErrUnauthenticated = errors.New("auth: not authenticated")
	ErrForbidden       = errors.New("auth: role not allowed")
)

// Identity is the authenticated caller. It is established once per request by
// the HTTP layer and passed explicitly into every core operation, which trust
// it without further verification.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.UserID != "" && i.Role == RoleAdmin
}

// RequireUser fails when the identity is empty.
func (i Identity) RequireUser() error {
	if i.UserID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// RequireAdmin fails unless the identity is an admin.
func (i Identity) RequireAdmin() error {
	if err := i.RequireUser(); err != nil {
		return err
	}
	if !i.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// RequireStudent fails unless the identity is a student.
func (i Identity) RequireStudent() error {
	if err := i.RequireUser(); err != nil {
		return err
	}
	if i.Role != RoleStudent {
		return ErrForbidden
	}
	return nil
}
