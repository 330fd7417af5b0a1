package qrcode

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"pio7/internal/course"
	"pio7/internal/store"
)

const (
	codeColumns   = `id, code, session_id, expires_at, is_active, created_at`
	codeUniqueKey = "qr_codes_code_key"
)

// PostgresRepository persists codes in Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Replace locks the session row so concurrent issuers for one session queue up
// behind each other. Readers keep seeing the previous code until commit.
func (r *PostgresRepository) Replace(ctx context.Context, c Code) (Code, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Code{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowxContext(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, c.SessionID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Code{}, course.ErrSessionNotFound
		}
		return Code{}, errors.Wrap(err, "lock session")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE qr_codes SET is_active = FALSE WHERE session_id = $1 AND is_active`, c.SessionID); err != nil {
		return Code{}, errors.Wrap(err, "deactivate codes")
	}

	row := tx.QueryRowxContext(ctx, `
		INSERT INTO qr_codes (id, code, session_id, expires_at, is_active)
		VALUES ($1,$2,$3,$4,TRUE)
		RETURNING created_at
	`, c.ID, c.Code, c.SessionID, c.ExpiresAt)
	if err := row.Scan(&c.CreatedAt); err != nil {
		if store.IsUniqueViolation(err, codeUniqueKey) {
			return Code{}, ErrCodeTaken
		}
		return Code{}, errors.Wrap(err, "insert code")
	}
	if err := tx.Commit(); err != nil {
		return Code{}, errors.Wrap(err, "commit code")
	}
	c.IsActive = true
	return c, nil
}

func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (Code, error) {
	return r.get(ctx, `SELECT `+codeColumns+` FROM qr_codes WHERE code = $1`, code)
}

func (r *PostgresRepository) Active(ctx context.Context, sessionID string) (Code, error) {
	return r.get(ctx, `SELECT `+codeColumns+` FROM qr_codes WHERE session_id = $1 AND is_active`, sessionID)
}

func (r *PostgresRepository) get(ctx context.Context, query string, arg interface{}) (Code, error) {
	var c Code
	if err := r.db.GetContext(ctx, &c, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Code{}, ErrNotFound
		}
		return Code{}, errors.Wrap(err, "get code")
	}
	return c, nil
}
