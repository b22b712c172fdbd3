package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims holds the token claims the client reads for display and routing.
// They are decoded without verifying the signature; the server's status codes
// remain the only authority on whether a token is valid.
type Claims struct {
	ExpiresAt   time.Time
	HasExpiry   bool
	AccountType string
}

// DecodeClaims reads the exp and accountType claims from an encoded token.
func DecodeClaims(token string) (Claims, error) {
	parser := jwt.NewParser(jwt.WithJSONNumber())
	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("decode token claims: %w", err)
	}

	var c Claims
	switch exp := mc["exp"].(type) {
	case json.Number:
		if f, err := exp.Float64(); err == nil && f > 0 {
			c.ExpiresAt, c.HasExpiry = time.Unix(int64(f), 0), true
		}
	case float64:
		if exp > 0 {
			c.ExpiresAt, c.HasExpiry = time.Unix(int64(exp), 0), true
		}
	}
	if at, ok := mc["accountType"].(string); ok {
		c.AccountType = at
	}
	return c, nil
}

// Expiry returns the token's expiry, or false when it cannot be decoded.
func Expiry(token string) (time.Time, bool) {
	c, err := DecodeClaims(token)
	if err != nil || !c.HasExpiry {
		return time.Time{}, false
	}
	return c.ExpiresAt, true
}
