// Package course holds class sessions: the scheduled meetings attendance and
// submissions hang off. Session content is an opaque JSON payload.
package course

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"pio7/internal/jsonb"
)

var (
	ErrSessionNotFound = errors.New("course: session not found")
	ErrInvalidNumber   = errors.New("course: session number must be a positive integer")
)

// cancelledMarker in a subtitle marks a session that was not taught.
const cancelledMarker = "cancelad"

// Session is a scheduled class meeting.
type Session struct {
	ID        string        `db:"id" json:"id"`
	Number    int           `db:"session_number" json:"sessionNumber"`
	Date      time.Time     `db:"date" json:"date"`
	Title     string        `db:"title" json:"title"`
	Subtitle  string        `db:"subtitle" json:"subtitle"`
	IsExamDay bool          `db:"is_exam_day" json:"isExamDay"`
	Content   jsonb.Payload `db:"content" json:"content,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `db:"updated_at" json:"updatedAt"`
}

// Cancelled reports whether admins flagged the session as cancelled.
func (s Session) Cancelled() bool {
	return strings.Contains(strings.ToLower(s.Subtitle), cancelledMarker)
}

// State is where a session sits relative to today.
type State string

const (
	StateCompleted State = "COMPLETED"
	StateToday     State = "TODAY"
	StateUpcoming  State = "UPCOMING"
	StateCancelled State = "CANCELLED"
)

// StateAt compares calendar days in now's location.
func (s Session) StateAt(now time.Time) State {
	if s.Cancelled() {
		return StateCancelled
	}
	today := startOfDay(now)
	day := startOfDay(s.Date.In(now.Location()))
	switch {
	case day.Before(today):
		return StateCompleted
	case day.Equal(today):
		return StateToday
	default:
		return StateUpcoming
	}
}

// Completed reports whether the session was taught before now's day.
func (s Session) Completed(now time.Time) bool {
	return s.StateAt(now) == StateCompleted
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseNumber validates a session number taken from a path or form.
func ParseNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, ErrInvalidNumber
	}
	return n, nil
}

// Repository persists sessions.
type Repository interface {
	List(ctx context.Context) ([]Session, error)
	GetByNumber(ctx context.Context, number int) (Session, error)
	GetByID(ctx context.Context, id string) (Session, error)
	// Current is the lowest numbered session dated on or after the day of now.
	Current(ctx context.Context, now time.Time) (Session, error)
	// Upsert creates or updates the session keyed by Number.
	Upsert(ctx context.Context, s Session) (Session, error)
}
