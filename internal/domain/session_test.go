package domain

import (
	"testing"
	"time"
)

func TestSessionIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if (&Session{ExpiresAt: now.Add(time.Second)}).IsExpired(now) {
		t.Fatal("expected future expiry to be usable")
	}
	if !(&Session{ExpiresAt: now}).IsExpired(now) {
		t.Fatal("expected expiry equal to now to be expired")
	}
	if !(&Session{ExpiresAt: now.Add(-time.Minute)}).IsExpired(now) {
		t.Fatal("expected past expiry to be expired")
	}
}
