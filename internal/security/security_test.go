package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Secret1!", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifyPassword("Secret1!", hash))
	assert.False(t, VerifyPassword("secret1!", hash))
	assert.False(t, VerifyPassword("Secret1!", nil))
}

func TestDecoyMatchesConfiguredCost(t *testing.T) {
	d := NewDecoy(6)
	assert.False(t, d.Verify("Secret1!"))

	stored, err := HashPassword("Secret1!", 6)
	require.NoError(t, err)
	storedCost, err := bcrypt.Cost(stored)
	require.NoError(t, err)
	assert.Equal(t, storedCost, d.Cost())

	assert.Equal(t, bcrypt.DefaultCost, NewDecoy(99).Cost())
}

func TestCheckPasswordPolicy(t *testing.T) {
	cases := map[string]error{
		"Secret1!":        nil,
		"Sh0rt!":          ErrPasswordTooShort,
		"lowercase1!":     ErrPasswordNoUpper,
		"UPPERCASE1!":     ErrPasswordNoLower,
		"NoDigitsHere!":   ErrPasswordNoDigit,
		"NoSpecial123abc": ErrPasswordNoSpecial,
	}
	for password, want := range cases {
		assert.Equal(t, want, CheckPasswordPolicy(password), password)
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	token, exp, err := GenerateAccessToken("k", "user-1", "admin", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	claims, err := ParseAccessToken(token, "k")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestAccessTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, _, err := GenerateAccessToken("k", "user-1", "user", time.Minute)
	require.NoError(t, err)
	_, err = ParseAccessToken(token, "other")
	assert.Error(t, err)

	expired, _, err := GenerateAccessToken("k", "user-1", "user", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAccessToken(expired, "k")
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAccessTokenRequiresSecret(t *testing.T) {
	_, _, err := GenerateAccessToken("", "user-1", "user", time.Minute)
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = ParseAccessToken("anything", "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestRefreshTokenHash(t *testing.T) {
	token, hash, err := GenerateRefreshToken(0)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, hash, HashRefreshToken(token))

	other, _, err := GenerateRefreshToken(0)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestDeviceSignature(t *testing.T) {
	body := []byte(`{"battery_level":40}`)
	date := "2024-05-01T12:00:00Z"
	sig := ComputeSignature("shared", "D-1", "post", "/api/telemetry", "", ComputeBodyHash(body), date, "n1")

	assert.True(t, ValidateSignature("shared", "D-1", sig, "POST", "/api/telemetry", "", body, date, "n1"))
	assert.False(t, ValidateSignature("shared", "D-2", sig, "POST", "/api/telemetry", "", body, date, "n1"))
	assert.False(t, ValidateSignature("shared", "D-1", sig, "POST", "/api/telemetry", "", []byte(`{}`), date, "n1"))
	assert.False(t, ValidateSignature("other", "D-1", sig, "POST", "/api/telemetry", "", body, date, "n1"))
	assert.NotEqual(t, DeviceKey("shared", "D-1"), DeviceKey("shared", "D-2"))
}
