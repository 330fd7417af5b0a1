package course

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const sessionColumns = `id, session_number, date, title, subtitle, is_exam_day, content, created_at, updated_at`

// PostgresRepository persists sessions in Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := r.db.SelectContext(ctx, &out, `SELECT `+sessionColumns+` FROM sessions ORDER BY session_number`); err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	return out, nil
}

func (r *PostgresRepository) GetByNumber(ctx context.Context, number int) (Session, error) {
	return r.get(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_number = $1`, number)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (Session, error) {
	return r.get(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

func (r *PostgresRepository) Current(ctx context.Context, now time.Time) (Session, error) {
	return r.get(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE date >= $1 ORDER BY session_number LIMIT 1`, startOfDay(now))
}

func (r *PostgresRepository) get(ctx context.Context, query string, args ...interface{}) (Session, error) {
	var s Session
	if err := r.db.GetContext(ctx, &s, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, errors.Wrap(err, "get session")
	}
	return s, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO sessions (id, session_number, date, title, subtitle, is_exam_day, content)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (session_number) DO UPDATE SET
			date = EXCLUDED.date,
			title = EXCLUDED.title,
			subtitle = EXCLUDED.subtitle,
			is_exam_day = EXCLUDED.is_exam_day,
			content = COALESCE(EXCLUDED.content, sessions.content),
			updated_at = NOW()
		RETURNING `+sessionColumns,
		s.ID, s.Number, s.Date, s.Title, s.Subtitle, s.IsExamDay, s.Content)
	var out Session
	if err := row.StructScan(&out); err != nil {
		return Session{}, errors.Wrap(err, "upsert session")
	}
	return out, nil
}
