package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"pio7/internal/store"
)

// Repository persists attendance records. Insert enforces one record per
// (user, session) and reports a second one as ErrAlreadyRegistered.
type Repository interface {
	Insert(ctx context.Context, r Record) (Record, error)
	// ListBySession orders by registration time, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	ListBySessions(ctx context.Context, sessionIDs []string) ([]Record, error)
}

const (
	recordColumns  = `id, user_id, session_id, registered_at, method`
	userSessionKey = "attendances_user_session_key"
)

// PostgresRepository persists attendance data in Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert relies on the unique constraint rather than a pre-check, so two
// racing redemptions resolve to one row and one ErrAlreadyRegistered.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = time.Now().UTC()
	}
	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO attendances (id, user_id, session_id, registered_at, method)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING registered_at
	`, rec.ID, rec.UserID, rec.SessionID, rec.RegisteredAt, string(rec.Method))
	if err := row.Scan(&rec.RegisteredAt); err != nil {
		if store.IsUniqueViolation(err, userSessionKey) {
			return Record{}, ErrAlreadyRegistered
		}
		return Record{}, errors.Wrap(err, "insert attendance")
	}
	return rec, nil
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	var out []Record
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+recordColumns+` FROM attendances WHERE session_id = $1 ORDER BY registered_at ASC`, sessionID)
	return out, errors.Wrap(err, "list attendance by session")
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	var out []Record
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+recordColumns+` FROM attendances WHERE user_id = $1 ORDER BY registered_at ASC`, userID)
	return out, errors.Wrap(err, "list attendance by user")
}

func (r *PostgresRepository) ListBySessions(ctx context.Context, sessionIDs []string) ([]Record, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+recordColumns+` FROM attendances WHERE session_id IN (?) ORDER BY registered_at ASC`, sessionIDs)
	if err != nil {
		return nil, errors.Wrap(err, "build attendance query")
	}
	var out []Record
	err = r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...)
	return out, errors.Wrap(err, "list attendance by sessions")
}

// MemoryRepository keeps attendance in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []Record
	index   map[[2]string]struct{}
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{index: make(map[[2]string]struct{})}
}

func (r *MemoryRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]string{rec.UserID, rec.SessionID}
	if _, dup := r.index[key]; dup {
		return Record{}, ErrAlreadyRegistered
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = time.Now().UTC()
	}
	r.index[key] = struct{}{}
	r.records = append(r.records, rec)
	return rec, nil
}

func (r *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return r.filter(func(rec Record) bool { return rec.SessionID == sessionID }), nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	return r.filter(func(rec Record) bool { return rec.UserID == userID }), nil
}

func (r *MemoryRepository) ListBySessions(ctx context.Context, sessionIDs []string) ([]Record, error) {
	want := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		want[id] = true
	}
	return r.filter(func(rec Record) bool { return want[rec.SessionID] }), nil
}

// Count is the number of stored records.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *MemoryRepository) filter(keep func(Record) bool) []Record {
	r.mu.RLock()
	var out []Record
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out
}
