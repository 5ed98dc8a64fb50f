/**
 * @description
 * Session models a refresh-token-backed login. Sessions are created on login,
 * flipped inactive on revocation and physically removed by the expiry sweep.
 */
package domain

import "time"

// Session is a single refresh-token-backed login for a user.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Email            string    `json:"email,omitempty"`
	Name             string    `json:"name,omitempty"`
	RefreshTokenHash string    `json:"-"`
	IPAddress        *string   `json:"ip_address,omitempty"`
	UserAgent        *string   `json:"user_agent,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

// Identity returns the identity the session was opened for.
func (s *Session) Identity() Identity {
	return Identity{ID: s.UserID, Email: s.Email, Name: s.Name}
}

// IsExpired reports whether the session can no longer be used at now.
// The store returns expired-but-unswept rows, so callers must check this.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
