package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"proxygate/internal/support"
)

var ErrNoSecret = errors.New("jwt secret is not configured")

// jwtSecret is read lazily so tests can point JWT_SECRET at a known value.
func jwtSecret() []byte {
	return []byte(support.GetEnv("JWT_SECRET", ""))
}

func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// CallerIDFromToken extracts the numeric user_id claim from a bearer token.
// Returns nil when the token cannot be validated or carries no usable id,
// so best-effort identification never fails a request on its own.
func CallerIDFromToken(tokenString string) *uint64 {
	claims, err := ValidateJWT(tokenString)
	if err != nil {
		return nil
	}
	return CallerIDFromClaims(claims)
}

// CallerIDFromClaims reads the numeric user_id claim out of an already
// validated token. Returns nil when the claim is absent or unusable.
func CallerIDFromClaims(claims jwt.MapClaims) *uint64 {
	// JWT numbers are parsed as float64 by default
	raw, ok := claims["user_id"].(float64)
	if !ok || raw < 0 {
		return nil
	}

	id := uint64(raw)
	return &id
}
