package account

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/ratelimit"
)

type fixture struct {
	svc    *Service
	users  *MemoryRepository
	audits *audit.MemoryRepository
}

func newFixture(t *testing.T, mode ratelimit.Mode) *fixture {
	t.Helper()
	f := &fixture{users: NewMemoryRepository(), audits: audit.NewMemoryRepository()}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Options{})
	policy := ratelimit.NewPolicy(mode, limiter, ratelimit.Auth, nil)
	svc, err := NewService(f.users, policy, limiter, audit.NewRecorder(audit.RepositorySink{Repo: f.audits}, nil), Config{
		Issuer:          "pio7",
		SigningKey:      "test-signing-key",
		AccessTTL:       time.Hour,
		TwoFactorIssuer: "PIO-7",
	}, nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) create(t *testing.T, email string, role auth.Role) User {
	t.Helper()
	u, err := f.svc.Create(context.Background(), NewUser{Email: email, Name: email, Password: "s3cret!", Role: role})
	require.NoError(t, err)
	return u
}

func TestLogin(t *testing.T) {
	f := newFixture(t, ratelimit.ModeOff)
	u := f.create(t, "Ana@Example.com", auth.RoleStudent)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, LoginRequest{Email: " ana@example.com ", Password: "s3cret!", IP: "203.0.113.7"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.User.ID)

	claims, err := auth.Parse(sess.Token.AccessToken, "test-signing-key", "pio7")
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: u.ID, Role: auth.RoleStudent}, claims.Identity())

	_, err = f.svc.Login(ctx, LoginRequest{Email: "ana@example.com", Password: "nope"})
	assert.ErrorIs(t, err, auth.ErrBadCredentials)
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ghost@example.com", Password: "nope"})
	assert.ErrorIs(t, err, auth.ErrBadCredentials)
	_, err = f.svc.Login(ctx, LoginRequest{Email: "", Password: "x"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLoginRateLimitModes(t *testing.T) {
	for _, tt := range []struct {
		mode      ratelimit.Mode
		wantBlock bool
	}{
		{mode: ratelimit.ModeEnforce, wantBlock: true},
		{mode: ratelimit.ModeMonitor, wantBlock: false},
		{mode: ratelimit.ModeOff, wantBlock: false},
	} {
		t.Run(string(tt.mode), func(t *testing.T) {
			f := newFixture(t, tt.mode)
			f.create(t, "ana@example.com", auth.RoleStudent)
			req := LoginRequest{Email: "ana@example.com", Password: "wrong", IP: "203.0.113.7"}

			for i := 0; i < ratelimit.Auth.Limit; i++ {
				_, err := f.svc.Login(context.Background(), req)
				require.ErrorIs(t, err, auth.ErrBadCredentials)
			}
			_, err := f.svc.Login(context.Background(), req)
			if tt.wantBlock {
				require.ErrorIs(t, err, ratelimit.ErrLimited)
				var le *ratelimit.LimitError
				require.True(t, errors.As(err, &le))
				assert.False(t, le.Decision.Allowed)
			} else {
				assert.ErrorIs(t, err, auth.ErrBadCredentials)
			}
		})
	}
}

func TestTwoFactorLifecycle(t *testing.T) {
	f := newFixture(t, ratelimit.ModeOff)
	ctx := context.Background()
	u := f.create(t, "profe@example.com", auth.RoleAdmin)
	id := u.Identity()
	rc := audit.RequestContext{IPAddress: "203.0.113.7"}

	status, err := f.svc.TwoFactorStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TwoFactorStatus{}, status)

	enr, err := f.svc.SetupTwoFactor(ctx, id, rc)
	require.NoError(t, err)
	status, _ = f.svc.TwoFactorStatus(ctx, id)
	assert.Equal(t, TwoFactorStatus{Enabled: false, Configured: true}, status)

	stored, _ := f.users.GetByID(ctx, u.ID)
	assert.NotEqual(t, enr.Secret, stored.TwoFactorSecret, "secret is stored sealed")

	assert.ErrorIs(t, f.svc.VerifyTwoFactor(ctx, id, "000000", rc), ErrInvalidTOTP)

	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.VerifyTwoFactor(ctx, id, code, rc))
	status, _ = f.svc.TwoFactorStatus(ctx, id)
	assert.True(t, status.Enabled)

	_, err = f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "s3cret!"})
	assert.ErrorIs(t, err, ErrTOTPRequired)
	_, err = f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "s3cret!", TOTP: "123"})
	assert.ErrorIs(t, err, ErrInvalidTOTP)
	code, _ = totp.GenerateCode(enr.Secret, time.Now())
	_, err = f.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "s3cret!", TOTP: code})
	require.NoError(t, err)

	require.NoError(t, f.svc.DisableTwoFactor(ctx, id, rc))
	status, _ = f.svc.TwoFactorStatus(ctx, id)
	assert.Equal(t, TwoFactorStatus{}, status)

	entries, err := f.audits.List(ctx, 0)
	require.NoError(t, err)
	var actions []audit.Action
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []audit.Action{audit.ActionAdmin2FASetup, audit.ActionAdmin2FAEnabled, audit.ActionAdmin2FADisabled}, actions)
}

func TestTwoFactorVerifyIsRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.ModeOff)
	ctx := context.Background()
	u := f.create(t, "profe@example.com", auth.RoleAdmin)
	_, err := f.svc.SetupTwoFactor(ctx, u.Identity(), audit.RequestContext{})
	require.NoError(t, err)

	// the window is per admin, so changing the reported address does not reset it
	for i := 0; i < ratelimit.Auth.Limit; i++ {
		rc := audit.RequestContext{IPAddress: fmt.Sprintf("10.0.0.%d", i)}
		assert.ErrorIs(t, f.svc.VerifyTwoFactor(ctx, u.Identity(), "000000", rc), ErrInvalidTOTP)
	}
	assert.ErrorIs(t, f.svc.VerifyTwoFactor(ctx, u.Identity(), "000000", audit.RequestContext{IPAddress: "10.0.0.99"}), ratelimit.ErrLimited)
}

func TestTwoFactorRequiresAdmin(t *testing.T) {
	f := newFixture(t, ratelimit.ModeOff)
	s := f.create(t, "ana@example.com", auth.RoleStudent)
	_, err := f.svc.SetupTwoFactor(context.Background(), s.Identity(), audit.RequestContext{})
	assert.ErrorIs(t, err, auth.ErrForbidden)
	assert.ErrorIs(t, f.svc.VerifyTwoFactor(context.Background(), s.Identity(), "123456", audit.RequestContext{}), auth.ErrForbidden)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t, ratelimit.ModeOff)
	ctx := context.Background()

	u, created, err := f.svc.EnsureAdmin(ctx, "profe@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, auth.RoleAdmin, u.Role)

	again, created, err := f.svc.EnsureAdmin(ctx, "PROFE@example.com", "other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)

	_, err = f.svc.Create(ctx, NewUser{Email: "profe@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestStudentsRequiresAdmin(t *testing.T) {
	f := newFixture(t, ratelimit.ModeOff)
	ctx := context.Background()
	admin := f.create(t, "profe@example.com", auth.RoleAdmin)
	ana := f.create(t, "ana@example.com", auth.RoleStudent)

	list, err := f.svc.Students(ctx, admin.Identity())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ana.ID, list[0].ID)

	_, err = f.svc.Students(ctx, ana.Identity())
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.Students(ctx, auth.Identity{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, ratelimit.ModeOff)
	ctx := context.Background()
	u := f.create(t, "ana@example.com", auth.RoleStudent)

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.Identity(), "s3cret!", "short"), ErrWeakPassword)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.Identity(), "", "long-enough"), ErrMissingCredentials)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.Identity(), "wrong", "long-enough"), auth.ErrBadCredentials)
	require.NoError(t, f.svc.ChangePassword(ctx, u.Identity(), "s3cret!", "nueva-clave"))

	_, err := f.svc.Login(ctx, LoginRequest{Email: "ana@example.com", Password: "s3cret!"})
	assert.ErrorIs(t, err, auth.ErrBadCredentials)
	_, err = f.svc.Login(ctx, LoginRequest{Email: "ana@example.com", Password: "nueva-clave"})
	assert.NoError(t, err)

	// three checked attempts per hour
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.Identity(), "wrong", "otra-clave-1"), auth.ErrBadCredentials)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.Identity(), "nueva-clave", "otra-clave-1"), ratelimit.ErrLimited)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, auth.Identity{}, "a", "b"), auth.ErrUnauthenticated)
}
