package account

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pio7/internal/auth"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]User
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]User)}
}

func (r *MemoryRepository) Create(ctx context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return User{}, ErrEmailTaken
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	r.byID[u.ID] = u
	return u, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *MemoryRepository) ListByRole(ctx context.Context, role auth.Role) ([]User, error) {
	r.mu.RLock()
	var out []User
	for _, u := range r.byID {
		if u.Role == role {
			out = append(out, u)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

func (r *MemoryRepository) SetTwoFactor(ctx context.Context, id, sealedSecret string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.TwoFactorSecret = sealedSecret
	u.TwoFactorEnabled = enabled
	r.byID[id] = u
	return nil
}

func (r *MemoryRepository) SetPassword(ctx context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	r.byID[id] = u
	return nil
}
