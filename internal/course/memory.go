package course

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps sessions in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	byNumber map[int]Session
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byNumber: make(map[int]Session)}
}

func (r *MemoryRepository) List(ctx context.Context) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.byNumber))
	for _, s := range r.byNumber {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *MemoryRepository) GetByNumber(ctx context.Context, number int) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byNumber[number]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byNumber {
		if s.ID == id {
			return s, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

func (r *MemoryRepository) Current(ctx context.Context, now time.Time) (Session, error) {
	all, _ := r.List(ctx)
	today := startOfDay(now)
	for _, s := range all {
		if !s.Date.Before(today) {
			return s, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

func (r *MemoryRepository) Upsert(ctx context.Context, s Session) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := r.byNumber[s.Number]; ok {
		s.ID = prev.ID
		s.CreatedAt = prev.CreatedAt
		if s.Content.IsNull() {
			s.Content = prev.Content
		}
	} else {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	r.byNumber[s.Number] = s
	return s, nil
}
