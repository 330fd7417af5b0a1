// Package progress tracks what students do with a session outside of
// attendance: the per-session checklist and session page visits. It also
// rolls both up, together with attendance, into a student's dashboard numbers.
package progress

import (
	"context"
	"math"
	"strings"
	"time"

	"pio7/internal/attendance"
	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/course"
	"pio7/internal/logging"
)

// MaxVisitSeconds caps the time one visit report may add.
const MaxVisitSeconds = 60 * 60

// Item is one checklist entry of a session.
type Item struct {
	ID        string `db:"id" json:"id"`
	SessionID string `db:"session_id" json:"sessionId"`
	Text      string `db:"text" json:"text"`
	Position  int    `db:"position" json:"order"`
}

// ItemState is an item with the caller's completion.
type ItemState struct {
	Item
	Completed   bool       `db:"is_completed" json:"isCompleted"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// Mark sets one item's completion.
type Mark struct {
	ItemID    string
	Completed bool
}

// Visit is a student's accumulated time on a session page.
type Visit struct {
	ViewedAt   time.Time `db:"viewed_at" json:"viewedAt"`
	LastAccess time.Time `db:"last_access" json:"lastAccess"`
	TimeSpent  int       `db:"time_spent" json:"timeSpent"`
}

// Repository persists checklists and visits.
type Repository interface {
	// Items orders by position.
	Items(ctx context.Context, sessionID string) ([]Item, error)
	// ReplaceItems drops the session's items, and any completions of them,
	// and stores items in their place.
	ReplaceItems(ctx context.Context, sessionID string, items []Item) ([]Item, error)
	// UserItems lists every item of the session with userID's completion.
	UserItems(ctx context.Context, userID, sessionID string) ([]ItemState, error)
	// SaveMarks upserts one row per (user, item). The first completion time
	// is kept while an item stays completed.
	SaveMarks(ctx context.Context, userID string, marks []Mark, now time.Time) error
	CountItems(ctx context.Context) (int, error)
	CountCompleted(ctx context.Context, userID string) (int, error)
	// RecordVisit keeps the first view time and adds seconds to the total.
	RecordVisit(ctx context.Context, userID, sessionID string, seconds int, now time.Time) (Visit, error)
	CountVisits(ctx context.Context, userID string) (int, error)
}

// AttendanceLister reads a student's attendance.
type AttendanceLister interface {
	ListByUser(ctx context.Context, userID string) ([]attendance.Record, error)
}

// Auditor records admin actions.
type Auditor interface {
	Record(ctx context.Context, adminID string, action audit.Action, entityType, entityID string, metadata interface{}, rc audit.RequestContext)
}

// Service exposes checklist and progress operations.
type Service struct {
	repo       Repository
	sessions   course.Repository
	attendance AttendanceLister
	audit      Auditor
	log        logging.Logger
	now        func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository, sessions course.Repository, att AttendanceLister, auditor Auditor, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{repo: repo, sessions: sessions, attendance: att, audit: auditor, log: log, now: time.Now}
}

// Checklist returns the session's items with the caller's completion.
func (s *Service) Checklist(ctx context.Context, id auth.Identity, number int) ([]ItemState, error) {
	if err := id.RequireUser(); err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.repo.UserItems(ctx, id.UserID, sess.ID)
}

// SaveChecklist marks the listed items completed and every other item of the
// session not completed. Ids that are not items of the session are ignored.
func (s *Service) SaveChecklist(ctx context.Context, id auth.Identity, number int, completed []string) ([]ItemState, error) {
	if err := id.RequireUser(); err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.Items(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(completed))
	for _, itemID := range completed {
		done[itemID] = true
	}
	marks := make([]Mark, 0, len(items))
	for _, it := range items {
		marks = append(marks, Mark{ItemID: it.ID, Completed: done[it.ID]})
	}
	if err := s.repo.SaveMarks(ctx, id.UserID, marks, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.UserItems(ctx, id.UserID, sess.ID)
}

// SetItems replaces a session's checklist. Blank entries are dropped.
func (s *Service) SetItems(ctx context.Context, id auth.Identity, number int, texts []string, rc audit.RequestContext) ([]Item, error) {
	if err := id.RequireAdmin(); err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			items = append(items, Item{SessionID: sess.ID, Text: t, Position: len(items) + 1})
		}
	}
	stored, err := s.repo.ReplaceItems(ctx, sess.ID, items)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, id.UserID, audit.ActionChecklistUpdated, "Session", sess.ID, map[string]interface{}{
		"sessionNumber": sess.Number,
		"items":         len(stored),
	}, rc)
	return stored, nil
}

// RecordVisit notes that the student opened a session page and spent
// seconds on it, clamped to [0, MaxVisitSeconds].
func (s *Service) RecordVisit(ctx context.Context, id auth.Identity, number, seconds int) (Visit, error) {
	if err := id.RequireStudent(); err != nil {
		return Visit{}, err
	}
	if number <= 0 {
		return Visit{}, course.ErrInvalidNumber
	}
	sess, err := s.sessions.GetByNumber(ctx, number)
	if err != nil {
		return Visit{}, err
	}
	switch {
	case seconds < 0:
		seconds = 0
	case seconds > MaxVisitSeconds:
		seconds = MaxVisitSeconds
	}
	return s.repo.RecordVisit(ctx, id.UserID, sess.ID, seconds, s.now().UTC())
}

// Summary is a student's dashboard. Rates are whole percentages.
type Summary struct {
	AttendanceRate    int `json:"attendanceRate"`
	SessionsCompleted int `json:"sessionsCompleted"`
	TotalSessions     int `json:"totalSessions"`
	ChecklistProgress int `json:"checklistProgress"`
}

// Summary rolls up the caller's attendance, visits and checklist.
func (s *Service) Summary(ctx context.Context, id auth.Identity) (Summary, error) {
	if err := id.RequireStudent(); err != nil {
		return Summary{}, err
	}
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	records, err := s.attendance.ListByUser(ctx, id.UserID)
	if err != nil {
		return Summary{}, err
	}
	visits, err := s.repo.CountVisits(ctx, id.UserID)
	if err != nil {
		return Summary{}, err
	}
	completed, err := s.repo.CountCompleted(ctx, id.UserID)
	if err != nil {
		return Summary{}, err
	}
	items, err := s.repo.CountItems(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		AttendanceRate:    percent(len(records), len(sessions)),
		SessionsCompleted: visits,
		TotalSessions:     len(sessions),
		ChecklistProgress: percent(completed, items),
	}, nil
}

func percent(n, of int) int {
	if of == 0 {
		return 0
	}
	return int(math.Round(float64(n) / float64(of) * 100))
}
