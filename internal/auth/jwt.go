package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the ledger token payload. Party is the settlement participant the
// caller acts as; ledger operations take it from the token, never from the
// request body.
type Claims struct {
	Party string `json:"party"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ParseJWT validates a bearer token and returns its claims.
func ParseJWT(token string, secret []byte) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Party == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueJWT signs a token for a party with the given role and lifetime.
func IssueJWT(secret []byte, party string, role Role, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Party: party,
		Role:  string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   party,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
