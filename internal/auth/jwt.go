// Package auth turns bearer tokens into a domain.Identity. Token issuance lives elsewhere;
// GenerateAccessToken exists for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), ttl: ttl}
}

func (m *JWTManager) GenerateAccessToken(id domain.Identity) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign jwt: %w", err)
	}
	return signed, nil
}

func (m *JWTManager) Parse(tokenStr string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", t.Method)
		}
		return m.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to parse jwt: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.Identity{}, errors.New("invalid jwt token")
	}
	if claims.Subject == "" {
		return domain.Identity{}, errors.New("jwt has no subject")
	}
	return domain.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}
