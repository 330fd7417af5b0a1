package qrcode

import (
	"bytes"
	"context"
	"errors"
	"strings"
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
	"pio7/internal/logging"
)

var admin = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}

func TestGenerateAlphabetAndDistribution(t *testing.T) {
	const samples = 100000
	counts := make(map[rune]int)
	for i := 0; i < samples; i++ {
		code, err := Generate(DefaultLength)
		require.NoError(t, err)
		require.Len(t, code, DefaultLength)
		for _, r := range code {
			counts[r]++
		}
	}

	for r := range counts {
		require.True(t, strings.ContainsRune(Alphabet, r), "unexpected character %q", r)
	}
	for _, r := range "0O1IL" {
		assert.Zero(t, counts[r], "ambiguous character %q", r)
	}

	expected := float64(samples*DefaultLength) / float64(len(Alphabet))
	for _, r := range Alphabet {
		got := float64(counts[r])
		assert.InDelta(t, expected, got, expected*0.05, "character %q", r)
	}
}

func TestGenerateRejectsBadLength(t *testing.T) {
	_, err := Generate(2)
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = Generate(64)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestCheckAt(t *testing.T) {
	now := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	active := Code{IsActive: true, ExpiresAt: now.Add(time.Minute)}

	assert.Equal(t, ReasonNone, active.CheckAt(now))
	assert.Equal(t, ReasonExpired, active.CheckAt(now.Add(time.Minute)), "expiry instant is not valid")
	assert.Equal(t, ReasonInactive, Code{ExpiresAt: now.Add(time.Minute)}.CheckAt(now))
	assert.Equal(t, ReasonInactive, Code{ExpiresAt: now.Add(-time.Minute)}.CheckAt(now), "inactive wins over expired")
}

func TestNormalizeAndWellFormed(t *testing.T) {
	assert.Equal(t, "ABC234", Normalize("  abc234\n"))
	assert.True(t, WellFormed("ABC234"))
	assert.False(t, WellFormed("ABC"))
	assert.False(t, WellFormed("ABCO12"))
	assert.False(t, WellFormed("abc234"))
}

type fixture struct {
	manager  *Manager
	repo     *MemoryRepository
	sessions *course.MemoryRepository
	audits   *audit.MemoryRepository
	log      *logging.Memory
	session  course.Session
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     NewMemoryRepository(),
		sessions: course.NewMemoryRepository(),
		audits:   audit.NewMemoryRepository(),
		log:      &logging.Memory{},
		clock:    time.Date(2026, 2, 3, 16, 0, 0, 0, time.UTC),
	}
	s, err := f.sessions.Upsert(context.Background(), course.Session{Number: 1, Date: f.clock, Title: "Presentaciones"})
	require.NoError(t, err)
	f.session = s
	recorder := audit.NewRecorder(audit.RepositorySink{Repo: f.audits}, f.log)
	f.manager = NewManager(f.repo, f.sessions, recorder, Options{TTL: 15 * time.Minute, Logger: f.log})
	f.manager.now = func() time.Time { return f.clock }
	return f
}

func TestIssueKeepsSingleActiveCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var issued []Code
	for i := 0; i < 5; i++ {
		c, err := f.manager.Issue(ctx, admin, IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
		require.NoError(t, err)
		require.Equal(t, 1, f.repo.ActiveCount(f.session.ID))
		issued = append(issued, c)
	}

	last := issued[len(issued)-1]
	assert.Equal(t, f.clock.Add(15*time.Minute), last.ExpiresAt)
	for _, c := range issued[:len(issued)-1] {
		v, err := f.manager.Validate(ctx, c.Code)
		require.NoError(t, err)
		assert.Equal(t, ReasonInactive, v.Reason)
	}
	v, err := f.manager.Validate(ctx, strings.ToLower(last.Code))
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, f.session.ID, v.Code.SessionID)
}

func TestIssueDoesNotTouchOtherSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.sessions.Upsert(ctx, course.Session{Number: 2, Date: f.clock, Title: "Rutinas"})
	require.NoError(t, err)

	a, err := f.manager.Issue(ctx, admin, IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
	require.NoError(t, err)
	_, err = f.manager.Issue(ctx, admin, IssueRequest{SessionID: other.ID}, audit.RequestContext{})
	require.NoError(t, err)

	v, err := f.manager.Validate(ctx, a.Code)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestValidateExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.clock

	c, err := f.manager.Issue(ctx, admin, IssueRequest{SessionID: f.session.ID, TTL: 900 * time.Second}, audit.RequestContext{})
	require.NoError(t, err)

	f.clock = start.Add(899 * time.Second)
	v, err := f.manager.Validate(ctx, c.Code)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	f.clock = start.Add(901 * time.Second)
	v, err = f.manager.Validate(ctx, c.Code)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonExpired, v.Reason)

	_, err = f.manager.Active(ctx, f.session.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestValidateUnknown(t *testing.T) {
	f := newFixture(t)
	for _, code := range []string{"", "ZZZZZZ"} {
		v, err := f.manager.Validate(context.Background(), code)
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, ReasonNotFound, v.Reason)
	}
}

func TestConcurrentIssueLeavesOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const issuers = 2
	codes := make([]Code, issuers)
	var wg sync.WaitGroup
	for i := 0; i < issuers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.manager.Issue(ctx, admin, IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
			assert.NoError(t, err)
			codes[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.repo.ActiveCount(f.session.ID))
	valid, inactive := 0, 0
	for _, c := range codes {
		v, err := f.manager.Validate(ctx, c.Code)
		require.NoError(t, err)
		switch {
		case v.Valid:
			valid++
		case v.Reason == ReasonInactive:
			inactive++
		}
	}
	assert.Equal(t, 1, valid)
	assert.Equal(t, 1, inactive)
}

func TestIssueSurvivesAuditFailure(t *testing.T) {
	f := newFixture(t)
	f.audits.Fail = errors.New("audit store down")

	c, err := f.manager.Issue(context.Background(), admin, IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Code)
	assert.Equal(t, 1, f.repo.ActiveCount(f.session.ID))
	assert.Len(t, f.log.Find("audit write failed"), 1)
}

func TestIssueRecordsAudit(t *testing.T) {
	f := newFixture(t)
	c, err := f.manager.Issue(context.Background(), admin, IssueRequest{SessionID: f.session.ID},
		audit.RequestContext{IPAddress: "203.0.113.7"})
	require.NoError(t, err)

	entries, err := f.audits.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionQRCodeGenerated, entries[0].Action)
	assert.Equal(t, c.ID, entries[0].EntityID)
	assert.Contains(t, string(entries[0].Metadata), f.session.ID)
	assert.Contains(t, string(entries[0].Metadata), "expiresAt")
}

func TestIssueRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student := auth.Identity{UserID: "s-1", Role: auth.RoleStudent}

	_, err := f.manager.Issue(ctx, student, IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.manager.Issue(ctx, admin, IssueRequest{SessionID: "missing"}, audit.RequestContext{})
	assert.ErrorIs(t, err, course.ErrSessionNotFound)

	_, err = f.manager.Issue(ctx, admin, IssueRequest{SessionID: f.session.ID, TTL: time.Hour}, audit.RequestContext{})
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = f.manager.Issue(ctx, admin, IssueRequest{SessionID: f.session.ID, Code: "O0O0O0"}, audit.RequestContext{})
	assert.ErrorIs(t, err, ErrInvalidCode)

	c, err := f.manager.Issue(ctx, admin, IssueRequest{SessionID: f.session.ID, Code: "abc234"}, audit.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "ABC234", c.Code)

	_, err = f.manager.Issue(ctx, admin, IssueRequest{SessionID: f.session.ID, Code: "ABC234"}, audit.RequestContext{})
	assert.ErrorIs(t, err, ErrCodeTaken)
	assert.Equal(t, 0, len(f.log.Find("generated qr code collided, retrying")))
}

type collidingRepo struct {
	*MemoryRepository
	collisions int
}

func (r *collidingRepo) Replace(ctx context.Context, c Code) (Code, error) {
	if r.collisions > 0 {
		r.collisions--
		return Code{}, ErrCodeTaken
	}
	return r.MemoryRepository.Replace(ctx, c)
}

func TestIssueRetriesGeneratedCollisions(t *testing.T) {
	f := newFixture(t)
	repo := &collidingRepo{MemoryRepository: f.repo, collisions: 2}
	m := NewManager(repo, f.sessions, audit.NewRecorder(audit.RepositorySink{Repo: f.audits}, nil), Options{Logger: f.log})

	_, err := m.Issue(context.Background(), admin, IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
	require.NoError(t, err)
	assert.Len(t, f.log.Find("generated qr code collided, retrying"), 2)

	repo.collisions = generateAttempts
	_, err = m.Issue(context.Background(), admin, IssueRequest{SessionID: f.session.ID}, audit.RequestContext{})
	assert.ErrorIs(t, err, ErrCodeTaken)
}

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(sqlx.NewDb(db, "pgx")), mock
}

func TestPostgresReplace(t *testing.T) {
	repo, mock := newMockRepo(t)
	exp := time.Date(2026, 2, 3, 16, 15, 0, 0, time.UTC)
	created := exp.Add(-15 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM sessions WHERE id = \$1 FOR UPDATE`).WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-1"))
	mock.ExpectExec(`UPDATE qr_codes SET is_active = FALSE WHERE session_id = \$1 AND is_active`).WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO qr_codes`).WithArgs("q-1", "ABC234", "s-1", exp).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectCommit()

	c, err := repo.Replace(context.Background(), Code{ID: "q-1", Code: "ABC234", SessionID: "s-1", ExpiresAt: exp})
	require.NoError(t, err)
	assert.True(t, c.IsActive)
	assert.Equal(t, created, c.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplaceRollsBackOnDuplicateCode(t *testing.T) {
	repo, mock := newMockRepo(t)
	exp := time.Date(2026, 2, 3, 16, 15, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-1"))
	mock.ExpectExec(`UPDATE qr_codes`).WithArgs("s-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO qr_codes`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "qr_codes_code_key"})
	mock.ExpectRollback()

	_, err := repo.Replace(context.Background(), Code{ID: "q-1", Code: "ABC234", SessionID: "s-1", ExpiresAt: exp})
	assert.ErrorIs(t, err, ErrCodeTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplaceUnknownSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.Replace(context.Background(), Code{ID: "q-1", Code: "ABC234", SessionID: "nope"})
	assert.ErrorIs(t, err, course.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenderPNG(t *testing.T) {
	img, err := RenderPNG("ABC234", 256)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG\r\n\x1a\n")))
}
