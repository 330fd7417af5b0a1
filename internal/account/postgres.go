package account

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"pio7/internal/auth"
	"pio7/internal/store"
)

const userColumns = `id, email, name, COALESCE(password_hash, '') AS password_hash, role,
	COALESCE(two_factor_secret, '') AS two_factor_secret, two_factor_enabled, created_at`

// PostgresRepository persists users in Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, u User) (User, error) {
	return InsertUser(ctx, r.db, u)
}

// InsertUser adds u through q, which may be a transaction owned by another
// repository.
func InsertUser(ctx context.Context, q sqlx.QueryerContext, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	row := q.QueryRowxContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role)
		VALUES ($1,$2,$3,NULLIF($4,''),$5)
		RETURNING created_at
	`, u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role))
	if err := row.Scan(&u.CreatedAt); err != nil {
		if store.IsUniqueViolation(err, "users_email_key") {
			return User{}, ErrEmailTaken
		}
		return User{}, errors.Wrap(err, "insert user")
	}
	return u, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
}

func (r *PostgresRepository) get(ctx context.Context, query string, arg interface{}) (User, error) {
	var u User
	if err := r.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, errors.Wrap(err, "get user")
	}
	return u, nil
}

func (r *PostgresRepository) ListByRole(ctx context.Context, role auth.Role) ([]User, error) {
	var out []User
	err := r.db.SelectContext(ctx, &out, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY name, email`, string(role))
	return out, errors.Wrap(err, "list users")
}

func (r *PostgresRepository) SetTwoFactor(ctx context.Context, id, sealedSecret string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET two_factor_secret = NULLIF($2,''), two_factor_enabled = $3 WHERE id = $1`,
		id, sealedSecret, enabled)
	if err != nil {
		return errors.Wrap(err, "update two factor")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) SetPassword(ctx context.Context, id, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return errors.Wrap(err, "update password")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}
