package app

import (
	"context"
	"fmt"

	"github.com/transfa/access-service/internal/domain"
)

// IdentityValidator turns an access token into a verified identity.
type IdentityValidator interface {
	Validate(ctx context.Context, token string) (*domain.Identity, error)
}

// SessionBoundValidator rejects access tokens whose sid names a session that
// has been revoked, swept or has expired, so logout takes effect before the
// token's own expiry. Tokens without a sid pass through unchanged.
type SessionBoundValidator struct {
	next     IdentityValidator
	sessions *SessionService
}

// NewSessionBoundValidator wraps next with a session liveness check.
func NewSessionBoundValidator(next IdentityValidator, sessions *SessionService) *SessionBoundValidator {
	return &SessionBoundValidator{next: next, sessions: sessions}
}

// Validate implements IdentityValidator.
func (v *SessionBoundValidator) Validate(ctx context.Context, token string) (*domain.Identity, error) {
	identity, err := v.next.Validate(ctx, token)
	if err != nil || identity == nil || identity.SessionID == "" {
		return identity, err
	}

	session, err := v.sessions.ActiveSession(ctx, identity.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", identity.SessionID, err)
	}
	if session.UserID != identity.ID {
		return nil, fmt.Errorf("session %s: %w", identity.SessionID, ErrSessionNotFound)
	}
	return identity, nil
}
