package qrcode

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/course"
	"pio7/internal/logging"
)

// generateAttempts bounds retries when a generated code collides with a stored one.
const generateAttempts = 5

// Auditor is the part of the audit recorder the manager needs.
type Auditor interface {
	Record(ctx context.Context, adminID string, action audit.Action, entityType, entityID string, metadata interface{}, rc audit.RequestContext)
}

// Options configures a Manager.
type Options struct {
	// TTL is the deployment lifetime of a code and the upper bound for
	// per-request TTLs.
	TTL    time.Duration
	Length int
	Logger logging.Logger
}

// Manager issues and validates codes.
type Manager struct {
	repo     Repository
	sessions course.Repository
	audit    Auditor
	ttl      time.Duration
	length   int
	log      logging.Logger
	now      func() time.Time
}

// NewManager builds a Manager.
func NewManager(repo Repository, sessions course.Repository, auditor Auditor, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Length == 0 {
		opts.Length = DefaultLength
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Manager{
		repo:     repo,
		sessions: sessions,
		audit:    auditor,
		ttl:      opts.TTL,
		length:   opts.Length,
		log:      opts.Logger,
		now:      time.Now,
	}
}

// TTL is the default code lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// IssueRequest asks for a new code. Code and TTL are optional: an empty Code
// is generated, a zero TTL means the deployment default.
type IssueRequest struct {
	SessionID string
	Code      string
	TTL       time.Duration
}

// Issue replaces the session's active code with a new one and records the
// action in the audit trail. Audit failures never fail the issuance.
func (m *Manager) Issue(ctx context.Context, id auth.Identity, req IssueRequest, rc audit.RequestContext) (Code, error) {
	if err := id.RequireAdmin(); err != nil {
		return Code{}, err
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = m.ttl
	}
	if ttl < time.Second || ttl > m.ttl {
		return Code{}, ErrInvalidTTL
	}

	supplied := Normalize(req.Code)
	if supplied != "" && !WellFormed(supplied) {
		return Code{}, ErrInvalidCode
	}

	session, err := m.sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return Code{}, err
	}

	var issued Code
	for attempt := 1; ; attempt++ {
		value := supplied
		if value == "" {
			if value, err = Generate(m.length); err != nil {
				return Code{}, err
			}
		}
		issued, err = m.repo.Replace(ctx, Code{
			ID:        uuid.NewString(),
			Code:      value,
			SessionID: session.ID,
			ExpiresAt: m.now().Add(ttl).UTC(),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrCodeTaken) || supplied != "" || attempt == generateAttempts {
			return Code{}, err
		}
		m.log.Warn("generated qr code collided, retrying", "session", session.Number, "attempt", attempt)
	}

	issuedTotal.Inc()
	m.log.Info("qr code issued", "session", session.Number, "expires_at", issued.ExpiresAt, "admin_id", id.UserID)
	m.audit.Record(ctx, id.UserID, audit.ActionQRCodeGenerated, "QRCode", issued.ID, map[string]interface{}{
		"sessionId":     session.ID,
		"sessionNumber": session.Number,
		"expiresAt":     issued.ExpiresAt,
	}, rc)
	return issued, nil
}

// Validation is the outcome of checking a code.
type Validation struct {
	Code   Code
	Valid  bool
	Reason Reason
}

// Validate looks code up and checks it against the clock. Only store failures
// are returned as errors; an unusable code is a Validation with a Reason.
func (m *Manager) Validate(ctx context.Context, code string) (Validation, error) {
	value := Normalize(code)
	if value == "" {
		return Validation{Reason: ReasonNotFound}, nil
	}
	c, err := m.repo.GetByCode(ctx, value)
	if errors.Is(err, ErrNotFound) {
		validations.WithLabelValues(string(ReasonNotFound)).Inc()
		return Validation{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Validation{}, err
	}
	reason := c.CheckAt(m.now())
	if reason == ReasonNone {
		validations.WithLabelValues("valid").Inc()
	} else {
		validations.WithLabelValues(string(reason)).Inc()
	}
	return Validation{Code: c, Valid: reason == ReasonNone, Reason: reason}, nil
}

// Active returns the session's current code if it is still redeemable.
func (m *Manager) Active(ctx context.Context, sessionID string) (Code, error) {
	c, err := m.repo.Active(ctx, sessionID)
	if err != nil {
		return Code{}, err
	}
	if reason := c.CheckAt(m.now()); reason != ReasonNone {
		return Code{}, reason.Err()
	}
	return c, nil
}
