// Package registration gates student sign-up behind admin-issued codes.
// A code allows MaxUses sign-ups until it is deactivated or expires.
package registration

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pio7/internal/account"
	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/logging"
	"pio7/internal/qrcode"
	"pio7/internal/ratelimit"
)

var (
	ErrCodeNotFound   = errors.New("registration: code not found")
	ErrCodeInactive   = errors.New("registration: code is not active")
	ErrCodeExpired    = errors.New("registration: code has expired")
	ErrCodeExhausted  = errors.New("registration: code has no uses left")
	ErrCodeTaken      = errors.New("registration: code already exists")
	ErrCodeRequired   = errors.New("registration: code is required")
	ErrInvalidMaxUses = errors.New("registration: maxUses must be at least 1")
	ErrInvalidExpiry  = errors.New("registration: expiresAt must be in the future")
	ErrInvalidName    = errors.New("registration: name must have at least 2 characters")
	ErrInvalidEmail   = errors.New("registration: invalid email")
)

const (
	// CodeLength matches the classroom QR codes so both read the same way aloud.
	CodeLength       = 6
	generateAttempts = 10
	minNameLength    = 2
)

// Code is a registration code.
type Code struct {
	ID          string     `db:"id" json:"id"`
	Code        string     `db:"code" json:"code"`
	Description string     `db:"description" json:"description,omitempty"`
	MaxUses     int        `db:"max_uses" json:"maxUses"`
	UsedCount   int        `db:"used_count" json:"usedCount"`
	Active      bool       `db:"is_active" json:"isActive"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// CheckAt reports why the code cannot be used at now, or nil.
func (c Code) CheckAt(now time.Time) error {
	switch {
	case !c.Active:
		return ErrCodeInactive
	case c.ExpiresAt != nil && now.After(*c.ExpiresAt):
		return ErrCodeExpired
	case c.UsedCount >= c.MaxUses:
		return ErrCodeExhausted
	}
	return nil
}

// Repository persists codes.
type Repository interface {
	// Create reports a duplicate code as ErrCodeTaken.
	Create(ctx context.Context, c Code) (Code, error)
	// List returns the newest codes first.
	List(ctx context.Context) ([]Code, error)
	SetActive(ctx context.Context, id string, active bool) (Code, error)
	Delete(ctx context.Context, id string) error
	// Redeem checks code at now and, in one step, creates u, counts the use
	// and links u to the code. Nothing is stored when any part fails.
	Redeem(ctx context.Context, code string, now time.Time, u account.User) (account.User, error)
}

// Auditor records admin actions.
type Auditor interface {
	Record(ctx context.Context, adminID string, action audit.Action, entityType, entityID string, metadata interface{}, rc audit.RequestContext)
}

// Limiter gates sign-up attempts.
type Limiter interface {
	Check(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Decision
}

// Service manages codes and code-gated sign-up.
type Service struct {
	repo    Repository
	audit   Auditor
	limiter Limiter
	log     logging.Logger
	now     func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository, auditor Auditor, limiter Limiter, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{repo: repo, audit: auditor, limiter: limiter, log: log, now: time.Now}
}

// NewCode describes a code to issue. MaxUses zero means one use.
type NewCode struct {
	MaxUses     int
	Description string
	ExpiresAt   *time.Time
}

// Create issues a fresh code.
func (s *Service) Create(ctx context.Context, id auth.Identity, nc NewCode, rc audit.RequestContext) (Code, error) {
	if err := id.RequireAdmin(); err != nil {
		return Code{}, err
	}
	if nc.MaxUses == 0 {
		nc.MaxUses = 1
	}
	if nc.MaxUses < 1 {
		return Code{}, ErrInvalidMaxUses
	}
	if nc.ExpiresAt != nil && !nc.ExpiresAt.After(s.now()) {
		return Code{}, ErrInvalidExpiry
	}

	var created Code
	for attempt := 1; ; attempt++ {
		value, err := qrcode.Generate(CodeLength)
		if err != nil {
			return Code{}, err
		}
		created, err = s.repo.Create(ctx, Code{
			ID:          uuid.NewString(),
			Code:        value,
			Description: strings.TrimSpace(nc.Description),
			MaxUses:     nc.MaxUses,
			Active:      true,
			ExpiresAt:   nc.ExpiresAt,
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrCodeTaken) || attempt == generateAttempts {
			return Code{}, err
		}
	}

	s.log.Info("registration code created", "id", created.ID, "max_uses", created.MaxUses, "admin_id", id.UserID)
	s.audit.Record(ctx, id.UserID, audit.ActionRegistrationCodeCreated, "RegistrationCode", created.ID, map[string]interface{}{
		"maxUses":   created.MaxUses,
		"expiresAt": created.ExpiresAt,
	}, rc)
	return created, nil
}

// List returns every code.
func (s *Service) List(ctx context.Context, id auth.Identity) ([]Code, error) {
	if err := id.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx)
}

// SetActive turns a code on or off.
func (s *Service) SetActive(ctx context.Context, id auth.Identity, codeID string, active bool, rc audit.RequestContext) (Code, error) {
	if err := id.RequireAdmin(); err != nil {
		return Code{}, err
	}
	c, err := s.repo.SetActive(ctx, codeID, active)
	if err != nil {
		return Code{}, err
	}
	s.audit.Record(ctx, id.UserID, audit.ActionRegistrationCodeUpdated, "RegistrationCode", c.ID, map[string]interface{}{
		"isActive": active,
	}, rc)
	return c, nil
}

// Delete removes a code. Accounts created with it are kept.
func (s *Service) Delete(ctx context.Context, id auth.Identity, codeID string, rc audit.RequestContext) error {
	if err := id.RequireAdmin(); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, codeID); err != nil {
		return err
	}
	s.audit.Record(ctx, id.UserID, audit.ActionRegistrationCodeDeleted, "RegistrationCode", codeID, nil, rc)
	return nil
}

// Signup is a student registering with a code.
type Signup struct {
	Name     string
	Email    string
	Password string
	Code     string
	IP       string
}

// Register creates a student account if the code still has uses left.
func (s *Service) Register(ctx context.Context, su Signup) (account.User, error) {
	name := strings.TrimSpace(su.Name)
	if utf8.RuneCountInString(name) < minNameLength {
		return account.User{}, ErrInvalidName
	}
	email := account.NormalizeEmail(su.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return account.User{}, ErrInvalidEmail
	}
	if err := account.ValidatePassword(su.Password); err != nil {
		return account.User{}, err
	}
	code := qrcode.Normalize(su.Code)
	if code == "" {
		return account.User{}, ErrCodeRequired
	}
	if err := s.limiter.Check(ctx, "signup:"+su.IP, ratelimit.Signup).Err(); err != nil {
		s.log.Warn("signup rate limited", "ip", su.IP)
		return account.User{}, err
	}

	hash, err := auth.HashPassword(su.Password)
	if err != nil {
		return account.User{}, err
	}
	u, err := s.repo.Redeem(ctx, code, s.now().UTC(), account.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         auth.RoleStudent,
	})
	if err != nil {
		s.log.Warn("signup rejected", "email", email, "err", err)
		return account.User{}, err
	}
	s.log.Info("student registered", "user_id", u.ID)
	return u, nil
}
