package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the bridge reads from a bearer token.
type Claims struct {
	UserID    string
	ExpiresAt time.Time // zero when the token has no exp claim
}

// Expired reports whether the token's exp is at or before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// userIDClaims lists claim names carrying the account id, in priority order.
var userIDClaims = []string{"id", "userId", "sub"}

// ParseClaims decodes a JWT without verifying its signature. The token is only
// used to derive the identity; the cart API verifies it on every request.
func ParseClaims(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("parsing token: %w", err)
	}

	var out Claims
	for _, name := range userIDClaims {
		if v, ok := claims[name]; ok && v != nil {
			out.UserID = claimString(v)
			if out.UserID != "" {
				break
			}
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

func claimString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	default:
		return fmt.Sprint(val)
	}
}
