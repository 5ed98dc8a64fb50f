/**
 * @description
 * This file declares the session persistence contract shared by the Postgres and
 * in-memory stores. All lookups by refresh token hash the presented token first;
 * raw refresh tokens never reach storage.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/access-service/internal/domain"
)

// ErrDuplicateRefreshToken is returned when a refresh token is already bound to an active session.
var ErrDuplicateRefreshToken = errors.New("refresh token already bound to an active session")

// NewSession carries the fields needed to open a session.
type NewSession struct {
	UserID       string
	Email        string
	Name         string
	RefreshToken string
	ExpiresAt    time.Time
	IPAddress    *string
	UserAgent    *string
}

// SessionRepository persists refresh-token-backed sessions.
//
// FindActiveByRefreshToken does not filter on expiry: revocation and expiry are
// tracked separately and callers must reject expired rows themselves.
// Revocations are idempotent and report no error for missing or inactive rows.
type SessionRepository interface {
	Create(ctx context.Context, s NewSession) (*domain.Session, error)
	FindActiveByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error)
	FindActiveByID(ctx context.Context, id string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	RevokeByRefreshToken(ctx context.Context, refreshToken string) error
	SweepExpired(ctx context.Context) (int64, error)
	CountActive(ctx context.Context, userID string) (int, error)
	Ping(ctx context.Context) error
}
