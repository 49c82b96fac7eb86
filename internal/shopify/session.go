package shopify

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSessionToken covers every session-token rejection: bad
// signature, expired, wrong audience.
var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionClaims are the claims of a Shopify embedded-app session token.
type SessionClaims struct {
	// Dest is the shop the token was issued for.
	Dest string `json:"dest"`
	jwt.RegisteredClaims
}

// VerifySessionToken validates an embedded-app session token: HS256 signed
// with the app secret, unexpired, and addressed to this app's API key.
func VerifySessionToken(secret, apiKey, token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSessionToken
	}

	if apiKey != "" {
		audience, err := claims.GetAudience()
		if err != nil || !containsAudience(audience, apiKey) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidSessionToken)
		}
	}
	return claims, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
