package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/transfa/access-service/pkg/ratelimit"
)

type limiterStub struct {
	allowed    bool
	retryAfter time.Duration
	err        error
	keys       []string
}

func (s *limiterStub) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.retryAfter, s.err
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name           string
		limiter        *limiterStub
		wantStatus     int
		wantRetryAfter string
	}{
		{name: "allowed", limiter: &limiterStub{allowed: true}, wantStatus: http.StatusOK},
		{name: "denied", limiter: &limiterStub{retryAfter: 1500 * time.Millisecond}, wantStatus: http.StatusTooManyRequests, wantRetryAfter: "2"},
		{name: "denied with sub-second wait", limiter: &limiterStub{retryAfter: time.Millisecond}, wantStatus: http.StatusTooManyRequests, wantRetryAfter: "1"},
		{name: "limiter error fails open", limiter: &limiterStub{err: errors.New("redis down")}, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			handler := RateLimit(tt.limiter, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/sessions/refresh", nil)
			req.RemoteAddr = "192.0.2.10:4321"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetryAfter {
				t.Fatalf("expected Retry-After %q, got %q", tt.wantRetryAfter, got)
			}
			if len(tt.limiter.keys) != 1 || tt.limiter.keys[0] != "192.0.2.10" {
				t.Fatalf("expected limiter keyed by client ip, got %v", tt.limiter.keys)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		want       string
	}{
		{name: "forwarded for is ignored", xff: "203.0.113.5, 10.0.0.1", remoteAddr: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "real ip is ignored", xri: "203.0.113.9", remoteAddr: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "remote addr", remoteAddr: "198.51.100.7:5555", want: "198.51.100.7"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "remote addr without port", remoteAddr: "198.51.100.8", want: "198.51.100.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRateLimit_RotatingForwardedForFromOnePeerIsLimited(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := TrustedRealIP(nil)(RateLimit(ratelimit.NewLocalLimiter(1), logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	codes := make([]int, 0, 3)
	for _, forwarded := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		req := httptest.NewRequest(http.MethodPost, "/sessions/refresh", nil)
		req.RemoteAddr = "192.0.2.10:4321"
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", codes[0])
	}
	for i, code := range codes[1:] {
		if code != http.StatusTooManyRequests {
			t.Fatalf("request %d: expected 429 despite a new forwarded address, got %d", i+2, code)
		}
	}
}

func TestTrustedRealIP(t *testing.T) {
	trusted, err := ParseTrustedProxies("10.0.0.0/8, 192.0.2.1")
	if err != nil {
		t.Fatalf("ParseTrustedProxies returned error: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "trusted cidr peer", remoteAddr: "10.1.2.3:8080", xff: "203.0.113.5", want: "203.0.113.5"},
		{name: "trusted single host", remoteAddr: "192.0.2.1:8080", xff: "203.0.113.6", want: "203.0.113.6"},
		{name: "untrusted peer", remoteAddr: "192.0.2.2:8080", xff: "203.0.113.7", want: "192.0.2.2"},
		{name: "trusted peer without header", remoteAddr: "10.1.2.3:8080", want: "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := TrustedRealIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetClientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := ParseTrustedProxies("")
	if err != nil || len(prefixes) != 0 {
		t.Fatalf("expected no prefixes for an empty list, got %v, %v", prefixes, err)
	}

	if _, err := ParseTrustedProxies("10.0.0.0/8,not-an-ip"); err == nil {
		t.Fatal("expected an error for an invalid entry")
	}

	prefixes, err = ParseTrustedProxies("::ffff:10.0.0.1")
	if err != nil || len(prefixes) != 1 || prefixes[0].Bits() != 32 {
		t.Fatalf("expected a mapped address to become a /32, got %v, %v", prefixes, err)
	}
}
