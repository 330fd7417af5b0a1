// Package report builds the admin views over sessions, students and attendance.
package report

import (
	"context"
	"errors"
	"math"
	"time"

	"pio7/internal/account"
	"pio7/internal/attendance"
	"pio7/internal/auth"
	"pio7/internal/course"
)

// RiskThreshold is the attendance rate below which a student is at risk.
const RiskThreshold = 0.5

// Directory lists students to admins.
type Directory interface {
	Students(ctx context.Context, id auth.Identity) ([]account.User, error)
}

// Service computes reports.
type Service struct {
	sessions   course.Repository
	attendance attendance.Repository
	students   Directory
	now        func() time.Time
}

// NewService builds a Service.
func NewService(sessions course.Repository, att attendance.Repository, students Directory) *Service {
	return &Service{sessions: sessions, attendance: att, students: students, now: time.Now}
}

// Stats is the admin dashboard summary.
type Stats struct {
	TotalStudents     int `json:"totalStudents"`
	AverageAttendance int `json:"averageAttendance"`
	StudentsAtRisk    int `json:"studentsAtRisk"`
	CompletedSessions int `json:"completedSessions"`
	TotalSessions     int `json:"totalSessions"`
	CurrentSession    int `json:"currentSession"`
}

// Stats summarises attendance over completed sessions. Cancelled sessions
// count neither as held nor as missed.
func (s *Service) Stats(ctx context.Context, id auth.Identity) (Stats, error) {
	if err := id.RequireAdmin(); err != nil {
		return Stats{}, err
	}
	now := s.now()
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	students, err := s.students.Students(ctx, id)
	if err != nil {
		return Stats{}, err
	}

	var completed []string
	for _, sess := range sessions {
		if sess.Completed(now) {
			completed = append(completed, sess.ID)
		}
	}

	st := Stats{
		TotalStudents:     len(students),
		CompletedSessions: len(completed),
		TotalSessions:     len(sessions),
	}
	if cur, err := s.sessions.Current(ctx, now); err == nil {
		st.CurrentSession = cur.Number
	} else if !errors.Is(err, course.ErrSessionNotFound) {
		return Stats{}, err
	}
	if len(completed) == 0 || len(students) == 0 {
		return st, nil
	}

	records, err := s.attendance.ListBySessions(ctx, completed)
	if err != nil {
		return Stats{}, err
	}
	perStudent := make(map[string]int, len(students))
	for _, rec := range records {
		perStudent[rec.UserID]++
	}

	total := 0
	for _, u := range students {
		n := perStudent[u.ID]
		total += n
		if float64(n)/float64(len(completed)) < RiskThreshold {
			st.StudentsAtRisk++
		}
	}
	st.AverageAttendance = int(math.Round(float64(total) / float64(len(students)*len(completed)) * 100))
	return st, nil
}

// Person is the public part of a user shown in attendance lists.
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Presence is one attendance record with its student.
type Presence struct {
	ID           string            `json:"id"`
	RegisteredAt time.Time         `json:"registeredAt"`
	Method       attendance.Method `json:"method"`
	User         Person            `json:"user"`
}

// Totals counts a session's attendance.
type Totals struct {
	TotalStudents int `json:"totalStudents"`
	Present       int `json:"present"`
	Absent        int `json:"absent"`
}

// SessionDetail is the per-session attendance view.
type SessionDetail struct {
	State   course.State   `json:"state"`
	Session course.Session `json:"session"`
	Totals  Totals         `json:"totals"`
	Present []Presence     `json:"present"`
	Absent  []Person       `json:"absent"`
}

// SessionDetail lists who attended the numbered session. Absentees are only
// listed once the session is completed.
func (s *Service) SessionDetail(ctx context.Context, id auth.Identity, number int) (SessionDetail, error) {
	if err := id.RequireAdmin(); err != nil {
		return SessionDetail{}, err
	}
	sess, err := s.sessions.GetByNumber(ctx, number)
	if err != nil {
		return SessionDetail{}, err
	}
	records, err := s.attendance.ListBySession(ctx, sess.ID)
	if err != nil {
		return SessionDetail{}, err
	}
	students, err := s.students.Students(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}

	people := make(map[string]Person, len(students))
	for _, u := range students {
		people[u.ID] = Person{ID: u.ID, Name: u.Name, Email: u.Email}
	}

	d := SessionDetail{
		State:   sess.StateAt(s.now()),
		Session: sess,
		Present: make([]Presence, 0, len(records)),
		Absent:  []Person{},
	}
	d.Session.Content = nil

	present := make(map[string]bool, len(records))
	for _, rec := range records {
		p, ok := people[rec.UserID]
		if !ok {
			p = Person{ID: rec.UserID}
		}
		present[rec.UserID] = true
		d.Present = append(d.Present, Presence{ID: rec.ID, RegisteredAt: rec.RegisteredAt, Method: rec.Method, User: p})
	}
	if d.State == course.StateCompleted {
		for _, u := range students {
			if !present[u.ID] {
				d.Absent = append(d.Absent, people[u.ID])
			}
		}
	}
	d.Totals = Totals{TotalStudents: len(students), Present: len(d.Present), Absent: len(d.Absent)}
	return d, nil
}
