package submission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps submissions in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows []Submission
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Insert(ctx context.Context, s Submission) (Submission, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.rows = append(r.rows, s)
	r.mu.Unlock()
	return s, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Submission, error) {
	return r.list(limit, func(s Submission) bool { return s.UserID == userID }), nil
}

func (r *MemoryRepository) List(ctx context.Context, limit int) ([]Submission, error) {
	return r.list(limit, func(Submission) bool { return true }), nil
}

func (r *MemoryRepository) list(limit int, keep func(Submission) bool) []Submission {
	r.mu.RLock()
	var out []Submission
	for i := len(r.rows) - 1; i >= 0; i-- {
		if keep(r.rows[i]) {
			out = append(out, r.rows[i])
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out
}
