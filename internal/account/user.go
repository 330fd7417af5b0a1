// Package account manages portal users: login, admin bootstrap and the
// optional TOTP second factor for admins.
package account

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"pio7/internal/auth"
)

var (
	ErrUserNotFound           = errors.New("account: user not found")
	ErrEmailTaken             = errors.New("account: email already registered")
	ErrMissingCredentials     = errors.New("account: email and password are required")
	ErrTOTPRequired           = errors.New("account: two-factor code required")
	ErrInvalidTOTP            = errors.New("account: invalid two-factor code")
	ErrTwoFactorNotConfigured = errors.New("account: two-factor authentication is not set up")
	ErrWeakPassword           = errors.New("account: password must be at least 8 characters")
)

// MinPasswordLength applies to sign-up and password changes.
const MinPasswordLength = 8

// ValidatePassword enforces the password rule for new passwords.
func ValidatePassword(p string) error {
	if utf8.RuneCountInString(p) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// User is a portal account.
type User struct {
	ID               string    `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	Name             string    `db:"name" json:"name"`
	PasswordHash     string    `db:"password_hash" json:"-"`
	Role             auth.Role `db:"role" json:"role"`
	TwoFactorSecret  string    `db:"two_factor_secret" json:"-"`
	TwoFactorEnabled bool      `db:"two_factor_enabled" json:"twoFactorEnabled"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

// Identity is the capability a login grants.
func (u User) Identity() auth.Identity {
	return auth.Identity{UserID: u.ID, Role: u.Role}
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, u User) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	// ListByRole orders by name.
	ListByRole(ctx context.Context, role auth.Role) ([]User, error)
	// SetTwoFactor stores the sealed secret (empty clears it) and the enabled flag.
	SetTwoFactor(ctx context.Context, id, sealedSecret string, enabled bool) error
	SetPassword(ctx context.Context, id, hash string) error
}
