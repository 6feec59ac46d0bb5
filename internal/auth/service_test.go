package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyToken(t *testing.T) {
	svc := NewService(nil, "test-secret", time.Hour)

	token, err := svc.IssueToken("ops-1", []string{"orders:resolve"})
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", claims.Principal)
	assert.Equal(t, []string{"orders:resolve"}, claims.Perms)
}

func TestVerifyTokenBearerPrefix(t *testing.T) {
	svc := NewService(nil, "test-secret", time.Hour)

	token, err := svc.IssueToken("ops-1", nil)
	require.NoError(t, err)

	claims, err := svc.VerifyToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", claims.Principal)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	issuer := NewService(nil, "secret-a", time.Hour)
	verifier := NewService(nil, "secret-b", time.Hour)

	token, err := issuer.IssueToken("ops-1", nil)
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenExpired(t *testing.T) {
	svc := NewService(nil, "test-secret", time.Hour)

	claims := &Claims{
		Principal: "ops-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyTokenRejectsUnsignedAlg(t *testing.T) {
	svc := NewService(nil, "test-secret", time.Hour)

	claims := &Claims{
		Principal: "ops-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenGarbage(t *testing.T) {
	svc := NewService(nil, "test-secret", time.Hour)

	_, err := svc.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
