package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestJWTSessionRoundTrip(t *testing.T) {
	sessions, err := NewJWTSessionStore("test-secret", time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("validate token: ok=%v err=%v", ok, err)
	}
	if userID != "user-1" {
		t.Fatalf("expected subject user-1, got %q", userID)
	}
}

func TestJWTSessionRejectsForeignSignature(t *testing.T) {
	issuer, err := NewJWTSessionStore("secret-a", time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	verifier, err := NewJWTSessionStore("secret-b", time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := issuer.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := verifier.GetUserIDByToken(token); ok || err == nil {
		t.Fatalf("expected foreign-signature token to be rejected")
	}
}

func TestJWTSessionRejectsGarbage(t *testing.T) {
	sessions, err := NewJWTSessionStore("test-secret", time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	for _, token := range []string{"", "   ", "not.a.jwt"} {
		if _, ok, err := sessions.GetUserIDByToken(token); ok || err == nil {
			t.Fatalf("expected token %q to be rejected", token)
		}
	}
}

func TestDeleteSessionRevokesUntilExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	revoker := NewRedisTokenRevoker(srv.Addr(), "")
	sessions, err := NewJWTSessionStore("test-secret", time.Minute, revoker, JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := sessions.GetUserIDByToken(token); !ok || err != nil {
		t.Fatalf("token should be valid before logout: ok=%v err=%v", ok, err)
	}
	if err := sessions.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := sessions.GetUserIDByToken(token); ok {
		t.Fatalf("expected revoked token to be rejected")
	}
}

func TestMemoryRevokerExpires(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	if err := revoker.Revoke("jti-1", 10*time.Millisecond); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := revoker.IsRevoked("jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected jti-1 revoked, got %v err=%v", revoked, err)
	}
	time.Sleep(20 * time.Millisecond)
	revoked, err = revoker.IsRevoked("jti-1")
	if err != nil || revoked {
		t.Fatalf("expected revocation to expire, got %v err=%v", revoked, err)
	}
}
