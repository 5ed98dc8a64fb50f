/**
 * @description
 * This package provides a client for the external identity service. It turns an
 * opaque bearer/cookie token into a verified identity with a single HTTP call.
 *
 * Failures are classified so callers can log them apart, but callers must still
 * treat every error as "authentication failed": there are no retries and an
 * unreachable identity service fails closed.
 */
package identityclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/access-service/internal/domain"
)

var (
	// ErrTokenRejected means the identity service answered but did not accept the token.
	ErrTokenRejected = errors.New("identity service rejected token")
	// ErrUnavailable means the identity service could not be reached or failed internally.
	ErrUnavailable = errors.New("identity service unavailable")
)

const maxBodyBytes = 1 << 20

// Client validates tokens against the identity service.
type Client struct {
	validateURL string
	httpClient  *http.Client
}

// NewClient creates a client that calls baseURL+validatePath.
func NewClient(baseURL, validatePath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		validateURL: strings.TrimSuffix(baseURL, "/") + validatePath,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// identityResponse accepts both a bare identity body and one wrapped in "user".
type identityResponse struct {
	ID    string           `json:"id"`
	Email string           `json:"email"`
	Name  string           `json:"name"`
	User  *domain.Identity `json:"user"`
}

// Validate sends token to the identity service and returns the identity it belongs to.
func (c *Client) Validate(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenRejected)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.validateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrTokenRejected, resp.StatusCode)
	}

	var payload identityResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed body: %v", ErrTokenRejected, err)
	}

	identity := domain.Identity{ID: payload.ID, Email: payload.Email, Name: payload.Name}
	if payload.User != nil {
		identity = *payload.User
	}
	if strings.TrimSpace(identity.ID) == "" {
		return nil, fmt.Errorf("%w: identity id missing", ErrTokenRejected)
	}

	return &identity, nil
}
