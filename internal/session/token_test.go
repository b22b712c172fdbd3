package session

import (
	"testing"
	"time"
)

func TestDecodeClaims(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	token := signToken(t, RoleProvider, exp)

	c, err := DecodeClaims(token)
	if err != nil {
		t.Fatalf("DecodeClaims: %v", err)
	}
	if !c.HasExpiry || !c.ExpiresAt.Equal(exp) {
		t.Errorf("expiry = %v (%v), want %v", c.ExpiresAt, c.HasExpiry, exp)
	}
	if c.AccountType != RoleProvider {
		t.Errorf("accountType = %q, want %q", c.AccountType, RoleProvider)
	}
}

func TestDecodeClaims_ExpiredTokenStillDecodes(t *testing.T) {
	exp := time.Now().Add(-time.Hour).Truncate(time.Second)

	got, ok := Expiry(signToken(t, "CLIENT", exp))
	if !ok || !got.Equal(exp) {
		t.Errorf("Expiry = %v, %v; want %v, true", got, ok, exp)
	}
}

func TestExpiry_Unknown(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"opaque", "not-a-jwt"},
		{"bad payload", "eyJhbGciOiJIUzI1NiJ9.!!!.sig"},
		{"no exp", signToken(t, "CLIENT", time.Time{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := Expiry(tt.token); ok || !got.IsZero() {
				t.Errorf("Expiry = %v, %v; want zero, false", got, ok)
			}
		})
	}
}
