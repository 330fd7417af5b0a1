package submission

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const submissionColumns = `id, user_id, session_id, task_type, file_url, file_name, mime_type, size_bytes, created_at`

// PostgresRepository persists submissions in Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, s Submission) (Submission, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (:id, :user_id, :session_id, :task_type, :file_url, :file_name, :mime_type, :size_bytes, :created_at)
	`, s)
	if err != nil {
		return Submission{}, errors.Wrap(err, "insert submission")
	}
	return s, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Submission, error) {
	var out []Submission
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+submissionColumns+` FROM submissions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, ClampLimit(limit))
	return out, errors.Wrap(err, "list submissions by user")
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Submission, error) {
	var out []Submission
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+submissionColumns+` FROM submissions ORDER BY created_at DESC LIMIT $1`, ClampLimit(limit))
	return out, errors.Wrap(err, "list submissions")
}
