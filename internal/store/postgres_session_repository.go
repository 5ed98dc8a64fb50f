/**
 * @description
 * This file implements the session data access layer on PostgreSQL.
 * It contains all the SQL for creating, revoking, counting and sweeping sessions.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/access-service/internal/domain"
	"github.com/transfa/access-service/internal/security"
)

const uniqueViolation = "23505"

// PostgresSessionRepository handles database operations for sessions.
type PostgresSessionRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresSessionRepository creates a new repository.
func NewPostgresSessionRepository(db *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db, now: time.Now}
}

const sessionColumns = `id, user_id, email, name, refresh_token_hash, ip_address, user_agent, expires_at, active, created_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Email,
		&s.Name,
		&s.RefreshTokenHash,
		&s.IPAddress,
		&s.UserAgent,
		&s.ExpiresAt,
		&s.Active,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new active session.
func (r *PostgresSessionRepository) Create(ctx context.Context, s NewSession) (*domain.Session, error) {
	query := `
        INSERT INTO sessions (id, user_id, email, name, refresh_token_hash, ip_address, user_agent, expires_at, active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
        RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRow(ctx, query,
		uuid.NewString(),
		s.UserID,
		s.Email,
		s.Name,
		security.HashRefreshToken(s.RefreshToken),
		s.IPAddress,
		s.UserAgent,
		s.ExpiresAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateRefreshToken
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// FindActiveByRefreshToken returns the active session for the token, or nil if there is none.
// Expired rows that have not been swept yet are returned as well.
func (r *PostgresSessionRepository) FindActiveByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error) {
	query := `
        SELECT ` + sessionColumns + `
        FROM sessions
        WHERE refresh_token_hash = $1 AND active = TRUE
    `
	session, err := scanSession(r.db.QueryRow(ctx, query, security.HashRefreshToken(refreshToken)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session by refresh token: %w", err)
	}
	return session, nil
}

// FindActiveByID returns the active session with the given id, or nil if there is none.
// Like FindActiveByRefreshToken it does not filter on expiry.
func (r *PostgresSessionRepository) FindActiveByID(ctx context.Context, id string) (*domain.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `
        SELECT ` + sessionColumns + `
        FROM sessions
        WHERE id = $1 AND active = TRUE
    `
	session, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return session, nil
}

// ListActiveByUser returns the user's active sessions, newest first.
func (r *PostgresSessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `
        SELECT ` + sessionColumns + `
        FROM sessions
        WHERE user_id = $1 AND active = TRUE
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Revoke deactivates a session by id. Unknown ids are ignored.
func (r *PostgresSessionRepository) Revoke(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		// Not a session id we could ever have issued.
		return nil
	}
	if _, err := r.db.Exec(ctx, `UPDATE sessions SET active = FALSE WHERE id = $1 AND active = TRUE`, id); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser deactivates every active session of the user.
func (r *PostgresSessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `UPDATE sessions SET active = FALSE WHERE user_id = $1 AND active = TRUE`, userID); err != nil {
		return fmt.Errorf("revoke sessions for user: %w", err)
	}
	return nil
}

// RevokeByRefreshToken deactivates the session bound to the token, if any.
func (r *PostgresSessionRepository) RevokeByRefreshToken(ctx context.Context, refreshToken string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET active = FALSE WHERE refresh_token_hash = $1 AND active = TRUE`,
		security.HashRefreshToken(refreshToken),
	)
	if err != nil {
		return fmt.Errorf("revoke session by refresh token: %w", err)
	}
	return nil
}

// SweepExpired deletes every session whose expiry has passed, active or not.
func (r *PostgresSessionRepository) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, r.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountActive returns how many active sessions the user has.
func (r *PostgresSessionRepository) CountActive(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND active = TRUE`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

func (r *PostgresSessionRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
