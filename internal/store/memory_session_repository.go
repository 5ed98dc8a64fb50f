package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/access-service/internal/domain"
	"github.com/transfa/access-service/internal/security"
)

// MemorySessionRepository keeps sessions in process memory. It is meant for
// local development and tests; sessions are lost on restart.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	now      func() time.Time
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

func (r *MemorySessionRepository) Create(_ context.Context, s NewSession) (*domain.Session, error) {
	hash := security.HashRefreshToken(s.RefreshToken)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if existing.Active && existing.RefreshTokenHash == hash {
			return nil, ErrDuplicateRefreshToken
		}
	}

	session := &domain.Session{
		ID:               uuid.NewString(),
		UserID:           s.UserID,
		Email:            s.Email,
		Name:             s.Name,
		RefreshTokenHash: hash,
		IPAddress:        s.IPAddress,
		UserAgent:        s.UserAgent,
		ExpiresAt:        s.ExpiresAt,
		Active:           true,
		CreatedAt:        r.now(),
	}
	r.sessions[session.ID] = session

	return cloneSession(session), nil
}

func (r *MemorySessionRepository) FindActiveByRefreshToken(_ context.Context, refreshToken string) (*domain.Session, error) {
	hash := security.HashRefreshToken(refreshToken)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.Active && s.RefreshTokenHash == hash {
			return cloneSession(s), nil
		}
	}
	return nil, nil
}

func (r *MemorySessionRepository) FindActiveByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.sessions[id]; ok && s.Active {
		return cloneSession(s), nil
	}
	return nil, nil
}

func (r *MemorySessionRepository) ListActiveByUser(_ context.Context, userID string) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Session
	for _, s := range r.sessions {
		if s.Active && s.UserID == userID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySessionRepository) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.Active = false
	}
	return nil
}

func (r *MemorySessionRepository) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.UserID == userID {
			s.Active = false
		}
	}
	return nil
}

func (r *MemorySessionRepository) RevokeByRefreshToken(_ context.Context, refreshToken string) error {
	hash := security.HashRefreshToken(refreshToken)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash {
			s.Active = false
		}
	}
	return nil
}

func (r *MemorySessionRepository) SweepExpired(_ context.Context) (int64, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *MemorySessionRepository) CountActive(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, s := range r.sessions {
		if s.Active && s.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *MemorySessionRepository) Ping(context.Context) error { return nil }

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	return &c
}
