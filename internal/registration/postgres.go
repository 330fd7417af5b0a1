package registration

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"pio7/internal/account"
	"pio7/internal/store"
)

const (
	codeColumns   = `id, code, description, max_uses, used_count, is_active, expires_at, created_at`
	codeUniqueKey = "registration_codes_code_key"
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

func (r *PostgresRepository) Create(ctx context.Context, c Code) (Code, error) {
	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO registration_codes (id, code, description, max_uses, is_active, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, c.ID, c.Code, c.Description, c.MaxUses, c.Active, c.ExpiresAt)
	if err := row.Scan(&c.CreatedAt); err != nil {
		if store.IsUniqueViolation(err, codeUniqueKey) {
			return Code{}, ErrCodeTaken
		}
		return Code{}, errors.Wrap(err, "insert registration code")
	}
	return c, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Code, error) {
	var out []Code
	err := r.db.SelectContext(ctx, &out, `SELECT `+codeColumns+` FROM registration_codes ORDER BY created_at DESC`)
	return out, errors.Wrap(err, "list registration codes")
}

func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) (Code, error) {
	var c Code
	err := r.db.GetContext(ctx, &c,
		`UPDATE registration_codes SET is_active = $2 WHERE id = $1 RETURNING `+codeColumns, id, active)
	if errors.Is(err, sql.ErrNoRows) {
		return Code{}, ErrCodeNotFound
	}
	return c, errors.Wrap(err, "update registration code")
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM registration_codes WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete registration code")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCodeNotFound
	}
	return nil
}

// Redeem locks the code row so concurrent sign-ups cannot overrun MaxUses.
func (r *PostgresRepository) Redeem(ctx context.Context, code string, now time.Time, u account.User) (account.User, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return account.User{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var c Code
	if err := tx.GetContext(ctx, &c,
		`SELECT `+codeColumns+` FROM registration_codes WHERE code = $1 FOR UPDATE`, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.User{}, ErrCodeNotFound
		}
		return account.User{}, errors.Wrap(err, "lock registration code")
	}
	if err := c.CheckAt(now); err != nil {
		return account.User{}, err
	}

	created, err := account.InsertUser(ctx, tx, u)
	if err != nil {
		return account.User{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE registration_codes SET used_count = used_count + 1 WHERE id = $1`, c.ID); err != nil {
		return account.User{}, errors.Wrap(err, "count registration code use")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_registrations (user_id, code_id) VALUES ($1,$2)`, created.ID, c.ID); err != nil {
		return account.User{}, errors.Wrap(err, "link registration")
	}
	if err := tx.Commit(); err != nil {
		return account.User{}, errors.Wrap(err, "commit registration")
	}
	return created, nil
}
