/**
 * @description
 * Access tokens minted by the access-service when a refresh token is exchanged,
 * and the matching local validator used when TOKEN_VALIDATOR=local.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: signing and parsing of HS256 tokens.
 */
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/access-service/internal/domain"
)

// ErrInvalidToken is returned for any access token that fails verification.
var ErrInvalidToken = errors.New("invalid access token")

// AccessClaims are the claims carried by access tokens issued here.
type AccessClaims struct {
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs short-lived access tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed access token for identity bound to sessionID, and its expiry.
func (i *TokenIssuer) Issue(identity domain.Identity, sessionID string) (string, time.Time, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return "", time.Time{}, errors.New("identity id is required")
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := AccessClaims{
		Email:     identity.Email,
		Name:      identity.Name,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// LocalValidator verifies access tokens issued by a TokenIssuer sharing the same secret.
type LocalValidator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewLocalValidator(secret, issuer string) *LocalValidator {
	return &LocalValidator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Validate parses and verifies token and returns the identity it was issued for.
func (v *LocalValidator) Validate(_ context.Context, token string) (*domain.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &AccessClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject claim missing", ErrInvalidToken)
	}

	return &domain.Identity{ID: claims.Subject, Email: claims.Email, Name: claims.Name, SessionID: claims.SessionID}, nil
}
