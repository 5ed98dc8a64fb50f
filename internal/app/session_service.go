/**
 * @description
 * SessionService owns the refresh-token session lifecycle: opening a session for
 * an authenticated identity, exchanging a refresh token for a short-lived access
 * token, and the logout/revoke operations.
 *
 * Key rules:
 * - The raw refresh token is returned exactly once, from Login.
 * - Refresh rejects revoked sessions and sessions past their expiry even if the
 *   sweep has not removed them yet.
 * - A session can only be revoked by its owner.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/access-service/internal/domain"
	"github.com/transfa/access-service/internal/security"
	"github.com/transfa/access-service/internal/store"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrSessionLimitReached = errors.New("maximum active sessions reached")
	ErrTokenIssuerDisabled = errors.New("access token issuing is not configured")
)

// AccessTokenIssuer signs access tokens bound to a session.
type AccessTokenIssuer interface {
	Issue(identity domain.Identity, sessionID string) (string, time.Time, error)
}

// LoginRequest describes a session being opened for an authenticated identity.
type LoginRequest struct {
	Identity  domain.Identity
	IPAddress string
	UserAgent string
}

// LoginResult is returned once per session; RefreshToken is never retrievable again.
type LoginResult struct {
	Session              *domain.Session `json:"session"`
	RefreshToken         string          `json:"refresh_token"`
	AccessToken          string          `json:"access_token,omitempty"`
	AccessTokenExpiresAt *time.Time      `json:"access_token_expires_at,omitempty"`
}

// RefreshResult carries a freshly minted access token.
type RefreshResult struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	SessionID   string    `json:"session_id"`
}

// SessionService coordinates the session repository and the token issuer.
type SessionService struct {
	repo        store.SessionRepository
	issuer      AccessTokenIssuer
	logger      *slog.Logger
	sessionTTL  time.Duration
	maxSessions int
	now         func() time.Time
}

// NewSessionService wires the session lifecycle. issuer may be nil, in which case
// Login returns no access token and Refresh fails with ErrTokenIssuerDisabled.
// maxSessions <= 0 disables the per-user cap.
func NewSessionService(repo store.SessionRepository, issuer AccessTokenIssuer, sessionTTL time.Duration, maxSessions int, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:        repo,
		issuer:      issuer,
		logger:      logger,
		sessionTTL:  sessionTTL,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// Login opens a new session for req.Identity.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if strings.TrimSpace(req.Identity.ID) == "" {
		return nil, errors.New("identity id is required")
	}

	if s.maxSessions > 0 {
		active, err := s.repo.CountActive(ctx, req.Identity.ID)
		if err != nil {
			return nil, fmt.Errorf("count active sessions: %w", err)
		}
		if active >= s.maxSessions {
			return nil, ErrSessionLimitReached
		}
	}

	refreshToken, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	session, err := s.repo.Create(ctx, store.NewSession{
		UserID:       req.Identity.ID,
		Email:        req.Identity.Email,
		Name:         req.Identity.Name,
		RefreshToken: refreshToken,
		ExpiresAt:    s.now().Add(s.sessionTTL),
		IPAddress:    optionalString(req.IPAddress),
		UserAgent:    optionalString(req.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	result := &LoginResult{Session: session, RefreshToken: refreshToken}
	if s.issuer != nil {
		token, expiresAt, err := s.issuer.Issue(req.Identity, session.ID)
		if err != nil {
			return nil, fmt.Errorf("issue access token: %w", err)
		}
		result.AccessToken = token
		result.AccessTokenExpiresAt = &expiresAt
	}

	s.logger.Info("session opened", "user_id", session.UserID, "session_id", session.ID)
	return result, nil
}

// Refresh exchanges a refresh token for a new access token carrying the identity
// recorded on the session at login.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if s.issuer == nil {
		return nil, ErrTokenIssuerDisabled
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.repo.FindActiveByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired(s.now()) {
		return nil, ErrSessionExpired
	}
	token, expiresAt, err := s.issuer.Issue(session.Identity(), session.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &RefreshResult{AccessToken: token, ExpiresAt: expiresAt, SessionID: session.ID}, nil
}

// ActiveSession returns the session with the given id if it is neither revoked
// nor expired.
func (s *SessionService) ActiveSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.repo.FindActiveByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired(s.now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// Logout revokes the session bound to refreshToken. Unknown tokens are not an error.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	if err := s.repo.RevokeByRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// LogoutAll revokes every session owned by userID.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.repo.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Info("all sessions revoked", "user_id", userID)
	return nil
}

// RevokeSession revokes sessionID if it is an active session owned by userID.
func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sessions, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	for _, session := range sessions {
		if session.ID == sessionID {
			if err := s.repo.Revoke(ctx, sessionID); err != nil {
				return fmt.Errorf("revoke session: %w", err)
			}
			return nil
		}
	}
	return ErrSessionNotFound
}

// ListSessions returns the active sessions owned by userID.
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	sessions, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// SweepExpired deletes sessions past their expiry. It is run by the scheduler.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	removed, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	if removed > 0 {
		s.logger.Info("expired sessions swept", "count", removed)
	}
	return removed, nil
}

// Ping reports whether the session store is reachable.
func (s *SessionService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
