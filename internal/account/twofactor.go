package account

import (
	"context"

	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/ratelimit"
)

// TwoFactorStatus describes an admin's second factor.
type TwoFactorStatus struct {
	Enabled    bool `json:"enabled"`
	Configured bool `json:"configured"`
}

func (s *Service) admin(ctx context.Context, id auth.Identity) (User, error) {
	if err := id.RequireAdmin(); err != nil {
		return User{}, err
	}
	return s.users.GetByID(ctx, id.UserID)
}

// TwoFactorStatus reports whether the admin has a secret and whether it is enforced.
func (s *Service) TwoFactorStatus(ctx context.Context, id auth.Identity) (TwoFactorStatus, error) {
	u, err := s.admin(ctx, id)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	return TwoFactorStatus{Enabled: u.TwoFactorEnabled, Configured: u.TwoFactorSecret != ""}, nil
}

// SetupTwoFactor stores a fresh secret, leaving 2FA disabled until the admin
// proves possession with VerifyTwoFactor.
func (s *Service) SetupTwoFactor(ctx context.Context, id auth.Identity, rc audit.RequestContext) (auth.Enrollment, error) {
	u, err := s.admin(ctx, id)
	if err != nil {
		return auth.Enrollment{}, err
	}
	enr, err := auth.GenerateTOTP(s.cfg.TwoFactorIssuer, u.Email)
	if err != nil {
		return auth.Enrollment{}, err
	}
	sealed, err := s.box.Seal(enr.Secret)
	if err != nil {
		return auth.Enrollment{}, err
	}
	if err := s.users.SetTwoFactor(ctx, u.ID, sealed, false); err != nil {
		return auth.Enrollment{}, err
	}
	s.audit.Record(ctx, u.ID, audit.ActionAdmin2FASetup, "User", u.ID, nil, rc)
	return enr, nil
}

// VerifyTwoFactor enables 2FA once token matches the stored secret.
func (s *Service) VerifyTwoFactor(ctx context.Context, id auth.Identity, token string, rc audit.RequestContext) error {
	if err := id.RequireAdmin(); err != nil {
		return err
	}
	key := "admin-2fa-verify:" + id.UserID
	if err := s.limiter.Check(ctx, key, ratelimit.Auth).Err(); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		return err
	}
	if err := s.checkTOTP(u, token); err != nil {
		return err
	}
	if err := s.users.SetTwoFactor(ctx, u.ID, u.TwoFactorSecret, true); err != nil {
		return err
	}
	s.audit.Record(ctx, u.ID, audit.ActionAdmin2FAEnabled, "User", u.ID, nil, rc)
	return nil
}

// DisableTwoFactor clears the secret and turns 2FA off.
func (s *Service) DisableTwoFactor(ctx context.Context, id auth.Identity, rc audit.RequestContext) error {
	u, err := s.admin(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.SetTwoFactor(ctx, u.ID, "", false); err != nil {
		return err
	}
	s.audit.Record(ctx, u.ID, audit.ActionAdmin2FADisabled, "User", u.ID, nil, rc)
	return nil
}
