// Package attendance redeems attendance codes for students and lets admins
// register attendance directly. Each (user, session) pair is recorded once.
package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/course"
	"pio7/internal/logging"
	"pio7/internal/qrcode"
	"pio7/internal/ratelimit"
)

// Method is how attendance was registered. It is recorded, never interpreted.
type Method string

const (
	MethodQRScan     Method = "QR_SCAN"
	MethodManualCode Method = "MANUAL_CODE"
	MethodAdmin      Method = "ADMIN"
)

// ParseMethod accepts the three methods case-insensitively. Empty means MANUAL_CODE.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodQRScan, MethodManualCode, MethodAdmin:
		return m, nil
	case "":
		return MethodManualCode, nil
	}
	return "", ErrInvalidMethod
}

var (
	ErrAlreadyRegistered = errors.New("attendance: already registered for this session")
	ErrInvalidMethod     = errors.New("attendance: unknown method")
	ErrMissingCode       = errors.New("attendance: code is required")
	ErrMissingUser       = errors.New("attendance: user is required")
)

// Reason tells a student why a redemption did not go through.
type Reason string

const (
	ReasonNotFound          Reason = Reason(qrcode.ReasonNotFound)
	ReasonInactive          Reason = Reason(qrcode.ReasonInactive)
	ReasonExpired           Reason = Reason(qrcode.ReasonExpired)
	ReasonAlreadyRegistered Reason = "already_registered"
	ReasonRateLimited       Reason = "rate_limited"
)

// Record is one registered attendance.
type Record struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"userId"`
	SessionID    string    `db:"session_id" json:"sessionId"`
	RegisteredAt time.Time `db:"registered_at" json:"registeredAt"`
	Method       Method    `db:"method" json:"method"`
}

// CodeValidator checks attendance codes.
type CodeValidator interface {
	Validate(ctx context.Context, code string) (qrcode.Validation, error)
}

// Limiter gates redemption attempts.
type Limiter interface {
	Check(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Decision
}

// Auditor records admin overrides.
type Auditor interface {
	Record(ctx context.Context, adminID string, action audit.Action, entityType, entityID string, metadata interface{}, rc audit.RequestContext)
}

// Options configures a Service.
type Options struct {
	// RedeemLimit gates attempts per user before the code is looked at.
	RedeemLimit ratelimit.Config
	Logger      logging.Logger
}

// Service coordinates code validation and at-most-once registration.
type Service struct {
	repo     Repository
	codes    CodeValidator
	sessions course.Repository
	limiter  Limiter
	audit    Auditor
	limit    ratelimit.Config
	log      logging.Logger
	now      func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, codes CodeValidator, sessions course.Repository, limiter Limiter, auditor Auditor, opts Options) *Service {
	if opts.RedeemLimit.Limit == 0 {
		opts.RedeemLimit = ratelimit.Submission
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Service{
		repo:     repo,
		codes:    codes,
		sessions: sessions,
		limiter:  limiter,
		audit:    auditor,
		limit:    opts.RedeemLimit,
		log:      opts.Logger,
		now:      time.Now,
	}
}

// Result is the outcome of a redemption. A failed redemption is terminal for
// that attempt; Reason says what the student can do about it.
type Result struct {
	Success   bool
	Reason    Reason
	Record    Record
	RateLimit ratelimit.Decision
}

// Redeem exchanges code for an attendance record of the caller. Rejections
// come back as a Result with a Reason; errors are reserved for bad input and
// store failures.
func (s *Service) Redeem(ctx context.Context, id auth.Identity, code string, method Method) (Result, error) {
	if err := id.RequireUser(); err != nil {
		return Result{}, err
	}
	method, err := ParseMethod(string(method))
	if err != nil {
		return Result{}, err
	}
	if method == MethodAdmin && !id.IsAdmin() {
		return Result{}, auth.ErrForbidden
	}
	code = qrcode.Normalize(code)
	if code == "" {
		return Result{}, ErrMissingCode
	}

	decision := s.limiter.Check(ctx, "attendance:"+id.UserID, s.limit)
	if !decision.Allowed {
		return s.reject(id, ReasonRateLimited, decision), nil
	}

	v, err := s.codes.Validate(ctx, code)
	if err != nil {
		return Result{}, err
	}
	if !v.Valid {
		return s.reject(id, Reason(v.Reason), decision), nil
	}

	rec, err := s.repo.Insert(ctx, Record{
		UserID:       id.UserID,
		SessionID:    v.Code.SessionID,
		RegisteredAt: s.now().UTC(),
		Method:       method,
	})
	if errors.Is(err, ErrAlreadyRegistered) {
		return s.reject(id, ReasonAlreadyRegistered, decision), nil
	}
	if err != nil {
		return Result{}, err
	}

	redemptions.WithLabelValues("success").Inc()
	s.log.Info("attendance registered", "user_id", id.UserID, "session_id", rec.SessionID, "method", method)
	return Result{Success: true, Record: rec, RateLimit: decision}, nil
}

func (s *Service) reject(id auth.Identity, reason Reason, d ratelimit.Decision) Result {
	redemptions.WithLabelValues(string(reason)).Inc()
	s.log.Debug("attendance rejected", "user_id", id.UserID, "reason", reason)
	return Result{Reason: reason, RateLimit: d}
}

// Register records attendance for userID at the numbered session on an
// admin's authority. A second registration returns ErrAlreadyRegistered.
func (s *Service) Register(ctx context.Context, id auth.Identity, userID string, sessionNumber int, rc audit.RequestContext) (Record, error) {
	if err := id.RequireAdmin(); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return Record{}, ErrMissingUser
	}
	session, err := s.sessions.GetByNumber(ctx, sessionNumber)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.repo.Insert(ctx, Record{
		UserID:       userID,
		SessionID:    session.ID,
		RegisteredAt: s.now().UTC(),
		Method:       MethodAdmin,
	})
	if err != nil {
		return Record{}, err
	}
	s.audit.Record(ctx, id.UserID, audit.ActionAttendanceOverride, "Attendance", rec.ID, map[string]interface{}{
		"userId":        userID,
		"sessionNumber": session.Number,
	}, rc)
	return rec, nil
}

// History lists the caller's own attendance.
func (s *Service) History(ctx context.Context, id auth.Identity) ([]Record, error) {
	if err := id.RequireUser(); err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx, id.UserID)
}
