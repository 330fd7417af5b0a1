package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PostgresRepository persists checklists and visits in Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Items(ctx context.Context, sessionID string) ([]Item, error) {
	var out []Item
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, session_id, text, position FROM checklist_items WHERE session_id = $1 ORDER BY position`, sessionID)
	return out, errors.Wrap(err, "list checklist items")
}

func (r *PostgresRepository) ReplaceItems(ctx context.Context, sessionID string, items []Item) ([]Item, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE session_id = $1`, sessionID); err != nil {
		return nil, errors.Wrap(err, "clear checklist items")
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.SessionID = sessionID
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO checklist_items (id, session_id, text, position)
			VALUES (:id, :session_id, :text, :position)
		`, it); err != nil {
			return nil, errors.Wrap(err, "insert checklist item")
		}
		out = append(out, it)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit checklist")
	}
	return out, nil
}

func (r *PostgresRepository) UserItems(ctx context.Context, userID, sessionID string) ([]ItemState, error) {
	var out []ItemState
	err := r.db.SelectContext(ctx, &out, `
		SELECT i.id, i.session_id, i.text, i.position,
			COALESCE(u.is_completed, FALSE) AS is_completed, u.completed_at
		FROM checklist_items i
		LEFT JOIN user_checklist_items u ON u.item_id = i.id AND u.user_id = $1
		WHERE i.session_id = $2
		ORDER BY i.position
	`, userID, sessionID)
	return out, errors.Wrap(err, "list user checklist")
}

func (r *PostgresRepository) SaveMarks(ctx context.Context, userID string, marks []Mark, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range marks {
		var at *time.Time
		if m.Completed {
			at = &now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_checklist_items (user_id, item_id, is_completed, completed_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (user_id, item_id) DO UPDATE SET
				is_completed = EXCLUDED.is_completed,
				completed_at = CASE WHEN EXCLUDED.is_completed
					THEN COALESCE(user_checklist_items.completed_at, EXCLUDED.completed_at)
					ELSE NULL END
		`, userID, m.ItemID, m.Completed, at); err != nil {
			return errors.Wrap(err, "save checklist mark")
		}
	}
	return errors.Wrap(tx.Commit(), "commit checklist marks")
}

func (r *PostgresRepository) CountItems(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM checklist_items`)
	return n, errors.Wrap(err, "count checklist items")
}

func (r *PostgresRepository) CountCompleted(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM user_checklist_items WHERE user_id = $1 AND is_completed`, userID)
	return n, errors.Wrap(err, "count completed checklist items")
}

func (r *PostgresRepository) RecordVisit(ctx context.Context, userID, sessionID string, seconds int, now time.Time) (Visit, error) {
	var v Visit
	err := r.db.GetContext(ctx, &v, `
		INSERT INTO user_progress (user_id, session_id, viewed_at, last_access, time_spent)
		VALUES ($1,$2,$3,$3,$4)
		ON CONFLICT (user_id, session_id) DO UPDATE SET
			last_access = EXCLUDED.last_access,
			time_spent = user_progress.time_spent + EXCLUDED.time_spent
		RETURNING viewed_at, last_access, time_spent
	`, userID, sessionID, now, seconds)
	return v, errors.Wrap(err, "record visit")
}

func (r *PostgresRepository) CountVisits(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM user_progress WHERE user_id = $1`, userID)
	return n, errors.Wrap(err, "count visits")
}
