package account

import (
	"context"
	"errors"
	"time"

	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/logging"
	"pio7/internal/ratelimit"
)

// Auditor records admin actions.
type Auditor interface {
	Record(ctx context.Context, adminID string, action audit.Action, entityType, entityID string, metadata interface{}, rc audit.RequestContext)
}

// Limiter gates 2FA verification attempts.
type Limiter interface {
	Check(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Decision
}

// LoginGate applies the login rate-limit policy.
type LoginGate interface {
	Check(ctx context.Context, identifier string) ratelimit.Decision
}

// Config holds token and TOTP settings.
type Config struct {
	Issuer          string
	SigningKey      string
	AccessTTL       time.Duration
	TwoFactorIssuer string
}

// Service handles login and admin 2FA.
type Service struct {
	users   Repository
	box     *auth.SecretBox
	login   LoginGate
	limiter Limiter
	audit   Auditor
	cfg     Config
	log     logging.Logger
	now     func() time.Time
}

// NewService builds a Service.
func NewService(users Repository, login LoginGate, limiter Limiter, auditor Auditor, cfg Config, log logging.Logger) (*Service, error) {
	box, err := auth.NewSecretBox(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		users:   users,
		box:     box,
		login:   login,
		limiter: limiter,
		audit:   auditor,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}, nil
}

// LoginRequest is what a user submits to sign in.
type LoginRequest struct {
	Email    string
	Password string
	TOTP     string
	IP       string
}

// Session is a successful login.
type Session struct {
	Token auth.Token
	User  User
}

// Login verifies credentials, and the TOTP code for admins with 2FA on, and
// issues an access token. All credential mismatches report auth.ErrBadCredentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	email := NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return Session{}, ErrMissingCredentials
	}
	if err := s.login.Check(ctx, "login:"+req.IP+":"+email).Err(); err != nil {
		s.log.Warn("login rate limited", "email", email, "ip", req.IP)
		return Session{}, err
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, auth.ErrBadCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		return Session{}, err
	}

	if u.Role == auth.RoleAdmin && u.TwoFactorEnabled {
		if req.TOTP == "" {
			return Session{}, ErrTOTPRequired
		}
		if err := s.checkTOTP(u, req.TOTP); err != nil {
			return Session{}, err
		}
	}

	tok, err := auth.Issue(u.Identity(), s.cfg.Issuer, s.cfg.SigningKey, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	s.log.Info("login", "user_id", u.ID, "role", u.Role)
	return Session{Token: tok, User: u}, nil
}

func (s *Service) checkTOTP(u User, token string) error {
	if u.TwoFactorSecret == "" {
		return ErrTwoFactorNotConfigured
	}
	secret, err := s.box.Open(u.TwoFactorSecret)
	if err != nil {
		s.log.Error("two-factor secret unreadable", "user_id", u.ID, "err", err)
		return ErrInvalidTOTP
	}
	if !auth.VerifyTOTP(secret, token, s.now()) {
		return ErrInvalidTOTP
	}
	return nil
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, id auth.Identity) (User, error) {
	if err := id.RequireUser(); err != nil {
		return User{}, err
	}
	return s.users.GetByID(ctx, id.UserID)
}

// Students lists every student account.
func (s *Service) Students(ctx context.Context, id auth.Identity) ([]User, error) {
	if err := id.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.users.ListByRole(ctx, auth.RoleStudent)
}

// ChangePassword replaces the caller's password after checking the current
// one. Attempts share the auth preset so the current password cannot be
// brute-forced through this path.
func (s *Service) ChangePassword(ctx context.Context, id auth.Identity, current, next string) error {
	if err := id.RequireUser(); err != nil {
		return err
	}
	if current == "" || next == "" {
		return ErrMissingCredentials
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	if err := s.limiter.Check(ctx, "change-password:"+id.UserID, ratelimit.Auth).Err(); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(u.PasswordHash, current); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.log.Info("password changed", "user_id", u.ID)
	return nil
}

// NewUser describes an account to create.
type NewUser struct {
	Email    string
	Name     string
	Password string
	Role     auth.Role
}

// Create stores a new account with a hashed password.
func (s *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if NormalizeEmail(nu.Email) == "" || nu.Password == "" {
		return User{}, ErrMissingCredentials
	}
	if !nu.Role.Valid() {
		nu.Role = auth.RoleStudent
	}
	hash, err := auth.HashPassword(nu.Password)
	if err != nil {
		return User{}, err
	}
	return s.users.Create(ctx, User{Email: nu.Email, Name: nu.Name, PasswordHash: hash, Role: nu.Role})
}

// EnsureAdmin creates the bootstrap admin unless the email is already taken.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (User, bool, error) {
	if u, err := s.users.GetByEmail(ctx, email); err == nil {
		return u, false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}
	u, err := s.Create(ctx, NewUser{Email: email, Name: "Admin", Password: password, Role: auth.RoleAdmin})
	if errors.Is(err, ErrEmailTaken) {
		u, err = s.users.GetByEmail(ctx, email)
		return u, false, err
	}
	if err != nil {
		return User{}, false, err
	}
	s.audit.Record(ctx, u.ID, audit.ActionAdminBootstrapped, "User", u.ID, nil, audit.RequestContext{})
	return u, true, nil
}
