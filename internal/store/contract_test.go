package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runSessionRepositoryContract exercises the behaviour every SessionRepository must share.
func runSessionRepositoryContract(t *testing.T, newRepo func(t *testing.T) SessionRepository) {
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	t.Run("create then find", func(t *testing.T) {
		repo := newRepo(t)
		ip := "10.0.0.1"
		created, err := repo.Create(ctx, NewSession{UserID: "user_a", RefreshToken: "rt-create", ExpiresAt: future, IPAddress: &ip})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if !created.Active || created.ID == "" {
			t.Fatalf("expected active session with id, got %+v", created)
		}

		found, err := repo.FindActiveByRefreshToken(ctx, "rt-create")
		if err != nil {
			t.Fatalf("FindActiveByRefreshToken returned error: %v", err)
		}
		if found == nil || found.ID != created.ID {
			t.Fatalf("expected to find session %s, got %+v", created.ID, found)
		}
		if found.IPAddress == nil || *found.IPAddress != ip {
			t.Fatalf("expected ip address to round trip, got %v", found.IPAddress)
		}
		if found.UserAgent != nil {
			t.Fatalf("expected nil user agent, got %q", *found.UserAgent)
		}
	})

	t.Run("identity claims round trip", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.Create(ctx, NewSession{UserID: "user_a", Email: "ada@example.com", Name: "Ada", RefreshToken: "rt-identity", ExpiresAt: future})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		found, err := repo.FindActiveByRefreshToken(ctx, "rt-identity")
		if err != nil || found == nil {
			t.Fatalf("expected session, got %+v, %v", found, err)
		}
		if got := found.Identity(); got.ID != "user_a" || got.Email != "ada@example.com" || got.Name != "Ada" {
			t.Fatalf("expected identity to round trip, got %+v", got)
		}

		byID, err := repo.FindActiveByID(ctx, created.ID)
		if err != nil || byID == nil || byID.Email != "ada@example.com" {
			t.Fatalf("expected FindActiveByID to return the session, got %+v, %v", byID, err)
		}
	})

	t.Run("find by id ignores revoked and unknown sessions", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.Create(ctx, NewSession{UserID: "user_a", RefreshToken: "rt-byid", ExpiresAt: future})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := repo.Revoke(ctx, created.ID); err != nil {
			t.Fatalf("Revoke returned error: %v", err)
		}
		for _, id := range []string{created.ID, "00000000-0000-0000-0000-000000000000", "not-a-uuid"} {
			found, err := repo.FindActiveByID(ctx, id)
			if err != nil || found != nil {
				t.Fatalf("%s: expected nil, nil; got %+v, %v", id, found, err)
			}
		}
	})

	t.Run("unknown token returns nil", func(t *testing.T) {
		repo := newRepo(t)
		found, err := repo.FindActiveByRefreshToken(ctx, "does-not-exist")
		if err != nil || found != nil {
			t.Fatalf("expected nil, nil; got %+v, %v", found, err)
		}
	})

	t.Run("expired but unswept rows are still returned", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.Create(ctx, NewSession{UserID: "user_a", RefreshToken: "rt-expired", ExpiresAt: past}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		found, err := repo.FindActiveByRefreshToken(ctx, "rt-expired")
		if err != nil {
			t.Fatalf("FindActiveByRefreshToken returned error: %v", err)
		}
		if found == nil {
			t.Fatal("expected expired row to be returned until swept")
		}
		if !found.IsExpired(time.Now()) {
			t.Fatal("expected returned row to report expiry")
		}
	})

	t.Run("duplicate active refresh token rejected", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.Create(ctx, NewSession{UserID: "user_a", RefreshToken: "rt-dup", ExpiresAt: future}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		_, err := repo.Create(ctx, NewSession{UserID: "user_b", RefreshToken: "rt-dup", ExpiresAt: future})
		if !errors.Is(err, ErrDuplicateRefreshToken) {
			t.Fatalf("expected ErrDuplicateRefreshToken, got %v", err)
		}
	})

	t.Run("same user may hold many sessions", func(t *testing.T) {
		repo := newRepo(t)
		for _, token := range []string{"rt-m1", "rt-m2", "rt-m3"} {
			if _, err := repo.Create(ctx, NewSession{UserID: "user_multi", RefreshToken: token, ExpiresAt: future}); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
		}
		count, err := repo.CountActive(ctx, "user_multi")
		if err != nil {
			t.Fatalf("CountActive returned error: %v", err)
		}
		if count != 3 {
			t.Fatalf("expected 3 active sessions, got %d", count)
		}
		list, err := repo.ListActiveByUser(ctx, "user_multi")
		if err != nil {
			t.Fatalf("ListActiveByUser returned error: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 listed sessions, got %d", len(list))
		}
	})

	t.Run("revoke hides the session", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.Create(ctx, NewSession{UserID: "user_a", RefreshToken: "rt-revoke", ExpiresAt: future})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := repo.Revoke(ctx, created.ID); err != nil {
			t.Fatalf("Revoke returned error: %v", err)
		}
		found, err := repo.FindActiveByRefreshToken(ctx, "rt-revoke")
		if err != nil || found != nil {
			t.Fatalf("expected revoked session to be hidden, got %+v, %v", found, err)
		}
		// idempotent for revoked, unknown and malformed ids
		for _, id := range []string{created.ID, "6f1c7d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f", "not-a-uuid"} {
			if err := repo.Revoke(ctx, id); err != nil {
				t.Fatalf("expected Revoke(%q) to be a no-op, got %v", id, err)
			}
		}
	})

	t.Run("revoke by refresh token", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.Create(ctx, NewSession{UserID: "user_a", RefreshToken: "rt-logout", ExpiresAt: future}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := repo.RevokeByRefreshToken(ctx, "rt-logout"); err != nil {
			t.Fatalf("RevokeByRefreshToken returned error: %v", err)
		}
		if err := repo.RevokeByRefreshToken(ctx, "rt-logout"); err != nil {
			t.Fatalf("expected second revoke to be a no-op, got %v", err)
		}
		found, err := repo.FindActiveByRefreshToken(ctx, "rt-logout")
		if err != nil || found != nil {
			t.Fatalf("expected nil after revoke, got %+v, %v", found, err)
		}
		// the token can back a new session once the old one is inactive
		if _, err := repo.Create(ctx, NewSession{UserID: "user_a", RefreshToken: "rt-logout", ExpiresAt: future}); err != nil {
			t.Fatalf("expected token reuse after revoke to succeed, got %v", err)
		}
	})

	t.Run("revoke all for user leaves other users alone", func(t *testing.T) {
		repo := newRepo(t)
		for _, token := range []string{"rt-u1-a", "rt-u1-b"} {
			if _, err := repo.Create(ctx, NewSession{UserID: "user_1", RefreshToken: token, ExpiresAt: future}); err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
		}
		if _, err := repo.Create(ctx, NewSession{UserID: "user_2", RefreshToken: "rt-u2", ExpiresAt: future}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}

		if err := repo.RevokeAllForUser(ctx, "user_1"); err != nil {
			t.Fatalf("RevokeAllForUser returned error: %v", err)
		}

		if count, _ := repo.CountActive(ctx, "user_1"); count != 0 {
			t.Fatalf("expected user_1 to have no active sessions, got %d", count)
		}
		if count, _ := repo.CountActive(ctx, "user_2"); count != 1 {
			t.Fatalf("expected user_2 to keep its session, got %d", count)
		}
		if err := repo.RevokeAllForUser(ctx, "nobody"); err != nil {
			t.Fatalf("expected revoke for unknown user to be a no-op, got %v", err)
		}
	})

	t.Run("sweep removes exactly the expired rows", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.Create(ctx, NewSession{UserID: "user_s", RefreshToken: "rt-s-expired-active", ExpiresAt: past}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		revoked, err := repo.Create(ctx, NewSession{UserID: "user_s", RefreshToken: "rt-s-expired-revoked", ExpiresAt: past})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := repo.Revoke(ctx, revoked.ID); err != nil {
			t.Fatalf("Revoke returned error: %v", err)
		}
		if _, err := repo.Create(ctx, NewSession{UserID: "user_s", RefreshToken: "rt-s-live", ExpiresAt: future}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		liveRevoked, err := repo.Create(ctx, NewSession{UserID: "user_s", RefreshToken: "rt-s-live-revoked", ExpiresAt: future})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if err := repo.Revoke(ctx, liveRevoked.ID); err != nil {
			t.Fatalf("Revoke returned error: %v", err)
		}

		removed, err := repo.SweepExpired(ctx)
		if err != nil {
			t.Fatalf("SweepExpired returned error: %v", err)
		}
		if removed != 2 {
			t.Fatalf("expected 2 expired rows removed, got %d", removed)
		}
		if found, _ := repo.FindActiveByRefreshToken(ctx, "rt-s-expired-active"); found != nil {
			t.Fatal("expected expired active row to be gone")
		}
		if found, _ := repo.FindActiveByRefreshToken(ctx, "rt-s-live"); found == nil {
			t.Fatal("expected unexpired row to survive the sweep")
		}

		removed, err = repo.SweepExpired(ctx)
		if err != nil || removed != 0 {
			t.Fatalf("expected second sweep to remove nothing, got %d, %v", removed, err)
		}
	})
}
