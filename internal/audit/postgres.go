package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PostgresRepository persists entries in the audit_logs table.
type PostgresRepository struct {
	db *sqlx.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert is idempotent on id so a redelivered queue message is harmless.
func (r *PostgresRepository) Insert(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, admin_id, action, entity_type, entity_id, metadata, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,NULLIF($7,''),NULLIF($8,''),$9)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.AdminID, string(e.Action), e.EntityType, e.EntityID, e.Metadata, e.IPAddress, e.UserAgent, e.CreatedAt)
	return errors.Wrap(err, "insert audit entry")
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, admin_id, action, entity_type, COALESCE(entity_id, '') AS entity_id, metadata,
			COALESCE(ip_address, '') AS ip_address, COALESCE(user_agent, '') AS user_agent, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, ClampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "list audit entries")
	}
	return out, nil
}
