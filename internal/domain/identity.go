package domain

// Identity is the verified caller as reported by the identity service.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	// SessionID is set when the identity comes from an access token minted for a session.
	SessionID string `json:"-"`
}
