package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestExtractTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/generation-credits", nil)
	_, err := ExtractTokenFromRequest(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = ExtractTokenFromRequest(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, err := ExtractTokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	// Header scheme is case-insensitive.
	r.Header.Set("Authorization", "bearer abc.def.ghi")
	token, err = ExtractTokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestParseIdentity(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"sub":   "acct-42",
		"email": "maya@example.com",
		"role":  "admin",
	})

	identity, err := ParseIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-42", identity.UserID)
	assert.Equal(t, "maya@example.com", identity.Email)
	assert.Equal(t, "admin", identity.Role)

	// Role and subject are optional, email is not.
	identity, err = ParseIdentity(signedToken(t, jwt.MapClaims{"email": "maya@example.com"}))
	require.NoError(t, err)
	assert.Empty(t, identity.Role)

	_, err = ParseIdentity(signedToken(t, jwt.MapClaims{"sub": "acct-42"}))
	assert.Error(t, err)

	_, err = ParseIdentity("")
	assert.Error(t, err)

	_, err = ParseIdentity("not-a-jwt")
	assert.Error(t, err)
}
