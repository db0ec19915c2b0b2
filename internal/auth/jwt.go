// Package auth verifies Supabase-issued access tokens locally.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"talk-pdf/internal/domain"
)

// DefaultAudience is the audience Supabase stamps on user access tokens.
const DefaultAudience = "authenticated"

// ErrInvalidToken is wrapped by every verification failure.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the access token claims read by the verifier.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with the project's JWT secret.
type JWTVerifier struct {
	secret   []byte
	audience string
	now      func() time.Time
}

type Option func(*JWTVerifier)

// WithAudience requires the aud claim to contain audience. An empty value
// disables the check.
func WithAudience(audience string) Option {
	return func(v *JWTVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

func NewJWTVerifier(secret string, opts ...Option) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret must not be empty")
	}
	v := &JWTVerifier{
		secret:   []byte(secret),
		audience: DefaultAudience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify returns the user the token was issued to.
func (v *JWTVerifier) Verify(_ context.Context, token string) (domain.User, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.User{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return domain.User{ID: claims.Subject, Email: claims.Email}, nil
}
