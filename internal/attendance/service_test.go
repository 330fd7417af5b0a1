package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/course"
	"pio7/internal/qrcode"
	"pio7/internal/ratelimit"
)

var (
	admin   = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
	student = auth.Identity{UserID: "student-1", Role: auth.RoleStudent}
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	codes    *qrcode.Manager
	sessions *course.MemoryRepository
	audits   *audit.MemoryRepository
	session  course.Session
}

func newFixture(t *testing.T, limit ratelimit.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		repo:     NewMemoryRepository(),
		sessions: course.NewMemoryRepository(),
		audits:   audit.NewMemoryRepository(),
	}
	s, err := f.sessions.Upsert(ctx, course.Session{Number: 3, Date: time.Now(), Title: "Rutinas"})
	require.NoError(t, err)
	f.session = s

	recorder := audit.NewRecorder(audit.RepositorySink{Repo: f.audits}, nil)
	f.codes = qrcode.NewManager(qrcode.NewMemoryRepository(), f.sessions, recorder, qrcode.Options{TTL: 15 * time.Minute})
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Options{})
	f.svc = NewService(f.repo, f.codes, f.sessions, limiter, recorder, Options{RedeemLimit: limit})
	return f
}

func (f *fixture) issue(t *testing.T) qrcode.Code {
	t.Helper()
	c, err := f.codes.Issue(context.Background(), admin, qrcode.IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
	require.NoError(t, err)
	return c
}

var roomy = ratelimit.Config{Name: "test", Limit: 1000, Window: time.Minute}

func TestRedeemOnce(t *testing.T) {
	f := newFixture(t, roomy)
	code := f.issue(t)
	ctx := context.Background()

	res, err := f.svc.Redeem(ctx, student, code.Code, MethodQRScan)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, f.session.ID, res.Record.SessionID)
	assert.Equal(t, MethodQRScan, res.Record.Method)
	first := res.Record.RegisteredAt

	res, err = f.svc.Redeem(ctx, student, code.Code, MethodManualCode)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonAlreadyRegistered, res.Reason)

	history, err := f.svc.History(ctx, student)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, first, history[0].RegisteredAt, "timestamp is not overwritten")
	assert.Equal(t, MethodQRScan, history[0].Method)
}

func TestRedeemRejectionReasons(t *testing.T) {
	f := newFixture(t, roomy)
	ctx := context.Background()
	old := f.issue(t)
	f.issue(t)

	res, err := f.svc.Redeem(ctx, student, "ZZZZZZ", MethodManualCode)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	res, err = f.svc.Redeem(ctx, student, old.Code, MethodManualCode)
	require.NoError(t, err)
	assert.Equal(t, ReasonInactive, res.Reason)

	expired := qrcode.NewManager(qrcode.NewMemoryRepository(), f.sessions, audit.NewRecorder(audit.RepositorySink{Repo: f.audits}, nil), qrcode.Options{TTL: time.Second})
	c, err := expired.Issue(ctx, admin, qrcode.IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	f.svc.codes = expired
	res, err = f.svc.Redeem(ctx, student, c.Code, MethodManualCode)
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, res.Reason)

	assert.Zero(t, f.repo.Count())
}

func TestRedeemRateLimitedBeforeValidation(t *testing.T) {
	f := newFixture(t, ratelimit.Attendance)
	ctx := context.Background()

	res, err := f.svc.Redeem(ctx, student, "WRONG2", MethodManualCode)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	code := f.issue(t)
	res, err = f.svc.Redeem(ctx, student, code.Code, MethodManualCode)
	require.NoError(t, err)
	assert.Equal(t, ReasonRateLimited, res.Reason)
	assert.False(t, res.RateLimit.Allowed)
	assert.Zero(t, f.repo.Count())

	other := auth.Identity{UserID: "student-2", Role: auth.RoleStudent}
	res, err = f.svc.Redeem(ctx, other, code.Code, MethodManualCode)
	require.NoError(t, err)
	assert.True(t, res.Success, "limits are per user")
}

func TestConcurrentRedeemRegistersOnce(t *testing.T) {
	f := newFixture(t, roomy)
	code := f.issue(t)

	const attempts = 20
	results := make([]Result, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Redeem(context.Background(), student, code.Code, MethodQRScan)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	success, dup := 0, 0
	for _, r := range results {
		if r.Success {
			success++
		} else if r.Reason == ReasonAlreadyRegistered {
			dup++
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, attempts-1, dup)
	assert.Equal(t, 1, f.repo.Count())
}

func TestRedeemInputErrors(t *testing.T) {
	f := newFixture(t, roomy)
	ctx := context.Background()

	_, err := f.svc.Redeem(ctx, auth.Identity{}, "ABC234", MethodQRScan)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	_, err = f.svc.Redeem(ctx, student, "   ", MethodQRScan)
	assert.ErrorIs(t, err, ErrMissingCode)
	_, err = f.svc.Redeem(ctx, student, "ABC234", Method("TELEPATHY"))
	assert.ErrorIs(t, err, ErrInvalidMethod)
	_, err = f.svc.Redeem(ctx, student, "ABC234", MethodAdmin)
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("qr_scan")
	require.NoError(t, err)
	assert.Equal(t, MethodQRScan, m)
	m, err = ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodManualCode, m)
	_, err = ParseMethod("email")
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestAdminRegister(t *testing.T) {
	f := newFixture(t, roomy)
	ctx := context.Background()

	rec, err := f.svc.Register(ctx, admin, "student-9", f.session.Number, audit.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, MethodAdmin, rec.Method)

	_, err = f.svc.Register(ctx, admin, "student-9", f.session.Number, audit.RequestContext{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = f.svc.Register(ctx, student, "student-9", f.session.Number, audit.RequestContext{})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.Register(ctx, admin, "student-9", 99, audit.RequestContext{})
	assert.ErrorIs(t, err, course.ErrSessionNotFound)

	entries, err := f.audits.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAttendanceOverride, entries[0].Action)
}

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(sqlx.NewDb(db, "pgx")), mock
}

func TestPostgresInsertTranslatesUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 2, 3, 16, 5, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO attendances`).
		WithArgs(sqlmock.AnyArg(), "student-1", "s-1", at, "QR_SCAN").
		WillReturnRows(sqlmock.NewRows([]string{"registered_at"}).AddRow(at))
	mock.ExpectQuery(`INSERT INTO attendances`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "attendances_user_session_key"})

	rec, err := repo.Insert(context.Background(), Record{UserID: "student-1", SessionID: "s-1", RegisteredAt: at, Method: MethodQRScan})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	_, err = repo.Insert(context.Background(), Record{UserID: "student-1", SessionID: "s-1", RegisteredAt: at, Method: MethodQRScan})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListBySessions(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 2, 3, 16, 5, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE session_id IN \(\$1, \$2\)`).WithArgs("s-1", "s-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "session_id", "registered_at", "method"}).
			AddRow("a-1", "student-1", "s-1", at, "QR_SCAN").
			AddRow("a-2", "student-1", "s-2", at.Add(time.Hour), "ADMIN"))

	got, err := repo.ListBySessions(context.Background(), []string{"s-1", "s-2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, MethodAdmin, got[1].Method)

	none, err := repo.ListBySessions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	require.NoError(t, mock.ExpectationsWereMet())
}
