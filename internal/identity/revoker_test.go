package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
)

func TestMemoryRevokerExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewMemoryRevoker(clock)
	ctx := context.Background()

	if err := r.Revoke(ctx, "tok", clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := r.IsRevoked(ctx, "tok"); !revoked {
		t.Fatalf("expected token revoked")
	}
	if revoked, _ := r.IsRevoked(ctx, "other"); revoked {
		t.Fatalf("unrelated token must not be revoked")
	}
	clock.Advance(time.Hour)
	if revoked, _ := r.IsRevoked(ctx, "tok"); revoked {
		t.Fatalf("revocation should lapse once the token expired")
	}

	if err := r.Revoke(ctx, "past", clock.Now().Add(-time.Second)); err != nil {
		t.Fatalf("revoke past: %v", err)
	}
	if len(r.tokens) != 0 {
		t.Fatalf("expired revocations must not be stored, got %d", len(r.tokens))
	}
}

func TestRedisRevokerUsesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisRevoker(mr.Addr(), "", "test:revoked")
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	if err := r.Revoke(ctx, "tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, err := r.IsRevoked(ctx, "tok"); err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	if mr.Exists("test:revoked:tok") {
		t.Fatalf("raw token must not appear in redis keys")
	}
	mr.FastForward(2 * time.Minute)
	if revoked, _ := r.IsRevoked(ctx, "tok"); revoked {
		t.Fatalf("expected revocation to expire with the key")
	}
}

func TestResolveRejectsRevokedToken(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	r, err := NewResolver(Config{Secret: testSecret, Clock: clock, Revoker: NewMemoryRevoker(clock)})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	token, _ := r.Issue("user-1", time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/api/me/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := r.Resolve(req); err != nil {
		t.Fatalf("resolve before logout: %v", err)
	}
	if err := r.Revoke(req); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := r.Resolve(req); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}

	guest := httptest.NewRequest(http.MethodPost, "/api/me/logout", nil)
	guest.Header.Set(GuestHeader, NewGuestID())
	if err := r.Revoke(guest); err != nil {
		t.Fatalf("guest logout has nothing to revoke: %v", err)
	}
}
