// Package auth resolves bearer tokens to a user id and role. Tokens are
// issued elsewhere; this service only verifies them.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/4xmen/karu/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

type Service struct {
	secret []byte
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserID is the hex object id carried in the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

func New(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || !models.ValidID(claims.Subject) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignToken issues an HS256 token for userID. The server never calls it on a
// request path; tooling and tests use it to mint credentials.
func (s *Service) SignToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
