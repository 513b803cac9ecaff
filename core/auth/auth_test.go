package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAdminVerify(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	admin, err := NewAdmin("admin", hash)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		user, pass string
		want       bool
	}{
		{"admin", "s3cret", true},
		{"admin", "wrong", false},
		{"root", "s3cret", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := admin.Verify(tt.user, tt.pass); got != tt.want {
			t.Errorf("Verify(%q, %q) = %v, want %v", tt.user, tt.pass, got, tt.want)
		}
	}
}

func TestNewAdminRejectsBadConfig(t *testing.T) {
	if _, err := NewAdmin("admin", ""); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("empty hash: got %v, want ErrNoCredentials", err)
	}
	if _, err := NewAdmin("admin", "plaintext"); err == nil {
		t.Error("expected error for a hash that is not bcrypt")
	}
	if _, err := HashPassword(""); err == nil {
		t.Error("expected error for an empty password")
	}
	if _, err := HashPassword(strings.Repeat("x", 73)); err == nil {
		t.Error("expected error for a password past 72 bytes")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	iss, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	token, expires, err := iss.GenerateToken("admin")
	if err != nil {
		t.Fatal(err)
	}
	if d := time.Until(expires); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("expiry in %v", d)
	}
	claims, err := iss.ParseToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "admin" {
		t.Errorf("username = %s", claims.Username)
	}
}

func TestTokenRejected(t *testing.T) {
	iss, _ := NewIssuer("test-secret")
	other, _ := NewIssuer("other-secret")
	token, _, _ := other.GenerateToken("admin")

	if _, err := iss.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign signature: err = %v", err)
	}
	if _, err := iss.ParseToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: err = %v", err)
	}

	past, _ := NewIssuer("test-secret")
	past.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, _, _ := past.GenerateToken("admin")
	if _, err := iss.ParseToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: err = %v", err)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(""); err == nil {
		t.Error("empty secret accepted")
	}
}
