package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"talk-pdf/internal/domain"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	return Claims{
		Email: "ada@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(fixedNow),
		},
	}
}

func newTestVerifier(t *testing.T, opts ...Option) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret, opts...)
	require.NoError(t, err)
	v.now = func() time.Time { return fixedNow }
	return v
}

func TestNewJWTVerifier_RequiresSecret(t *testing.T) {
	_, err := NewJWTVerifier("  ")
	require.Error(t, err)
}

func TestVerify_Valid(t *testing.T) {
	v := newTestVerifier(t)
	user, err := v.Verify(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	require.NoError(t, err)
	require.Equal(t, domain.User{ID: "user-1", Email: "ada@example.com"}, user)
}

func TestVerify_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(fixedNow.Add(-time.Minute))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"anon"}

	noSubject := validClaims()
	noSubject.Subject = ""

	cases := map[string]string{
		"garbage":        "not-a-jwt",
		"wrong secret":   sign(t, jwt.SigningMethodHS256, []byte("another-secret"), validClaims()),
		"wrong method":   sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()),
		"expired":        sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"no expiry":      sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry),
		"wrong audience": sign(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAud),
		"no subject":     sign(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject),
		"unsigned":       sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims()),
	}
	v := newTestVerifier(t)
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerify_AudienceCheckCanBeDisabled(t *testing.T) {
	claims := validClaims()
	claims.Audience = nil
	token := sign(t, jwt.SigningMethodHS256, []byte(testSecret), claims)

	_, err := newTestVerifier(t).Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)

	user, err := newTestVerifier(t, WithAudience("")).Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
}
