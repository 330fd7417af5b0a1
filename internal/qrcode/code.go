// Package qrcode manages time-boxed attendance codes. Each course session has
// at most one active code at a time; issuing a new one retires the previous
// one in the same transaction. Expiry is checked lazily on validation.
package qrcode

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"
)

// Alphabet leaves out characters that read alike on a projector: 0/O and 1/I/L.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Length bounds for codes.
const (
	DefaultLength = 6
	MinLength     = 4
	MaxLength     = 16
)

var (
	ErrNotFound    = errors.New("qrcode: code not found")
	ErrInactive    = errors.New("qrcode: code is no longer active")
	ErrExpired     = errors.New("qrcode: code expired")
	ErrInvalidCode = errors.New("qrcode: malformed code")
	ErrInvalidTTL  = errors.New("qrcode: ttl out of range")
	// ErrCodeTaken is returned by repositories when the code string is already used.
	ErrCodeTaken = errors.New("qrcode: code already exists")
)

// Reason explains why a code cannot be redeemed.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonNotFound Reason = "not_found"
	ReasonInactive Reason = "inactive"
	ReasonExpired  Reason = "expired"
)

// Err maps a reason to its sentinel error.
func (r Reason) Err() error {
	switch r {
	case ReasonNotFound:
		return ErrNotFound
	case ReasonInactive:
		return ErrInactive
	case ReasonExpired:
		return ErrExpired
	}
	return nil
}

// Code is a redeemable attendance token.
type Code struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	SessionID string    `db:"session_id" json:"sessionId"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// CheckAt reports why c cannot be redeemed at now, or ReasonNone. A
// deactivated code reports inactive even after it has also expired.
func (c Code) CheckAt(now time.Time) Reason {
	if !c.IsActive {
		return ReasonInactive
	}
	if !now.Before(c.ExpiresAt) {
		return ReasonExpired
	}
	return ReasonNone
}

// Generate draws a code of length characters from Alphabet using crypto/rand.
func Generate(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", ErrInvalidCode
	}
	max := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = Alphabet[n.Int64()]
	}
	return string(b), nil
}

// Normalize upper-cases a typed code and strips surrounding whitespace.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WellFormed reports whether code could have come from Generate.
func WellFormed(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
