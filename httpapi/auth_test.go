package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "https://issuer.example.com",
		Audience:  jwt.ClaimStrings{"espalier"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"missing", "", ""},
		{"no scheme", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"empty bearer", "Bearer ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// JWTAuthenticator Tests
// =============================================================================

func TestJWTAuthenticator_HMAC(t *testing.T) {
	secret := []byte("s3cret")
	a, err := NewJWTAuthenticator(JWTConfig{
		HMACSecret: secret,
		Issuer:     "https://issuer.example.com",
		Audience:   "espalier",
	})
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), sign(t, jwt.SigningMethodHS256, secret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.Subject)
	assert.Equal(t, "https://issuer.example.com", id.Issuer)
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	secret := []byte("s3cret")
	a, err := NewJWTAuthenticator(JWTConfig{
		HMACSecret: secret,
		Issuer:     "https://issuer.example.com",
		Audience:   "espalier",
	})
	require.NoError(t, err)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://other.example.com"
	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}
	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims())},
		{"expired", sign(t, jwt.SigningMethodHS256, secret, expired)},
		{"wrong issuer", sign(t, jwt.SigningMethodHS256, secret, wrongIssuer)},
		{"wrong audience", sign(t, jwt.SigningMethodHS256, secret, wrongAudience)},
		{"no expiry", sign(t, jwt.SigningMethodHS256, secret, noExpiry)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.token)
			assert.True(t, errors.Is(err, ErrUnauthorized), "expected ErrUnauthorized, got %v", err)
		})
	}
}

func TestJWTAuthenticator_RSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	a, err := NewJWTAuthenticator(JWTConfig{RSAPublicKeyPEM: pemBytes})
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), sign(t, jwt.SigningMethodRS256, key, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.Subject)

	// An HMAC token signed with the public key bytes must not pass.
	forged := sign(t, jwt.SigningMethodHS256, pemBytes, validClaims())
	_, err = a.Authenticate(context.Background(), forged)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewJWTAuthenticator_Config(t *testing.T) {
	_, err := NewJWTAuthenticator(JWTConfig{})
	assert.Error(t, err)

	_, err = NewJWTAuthenticator(JWTConfig{HMACSecret: []byte("a"), RSAPublicKeyPEM: []byte("b")})
	assert.Error(t, err)

	_, err = NewJWTAuthenticator(JWTConfig{RSAPublicKeyPEM: []byte("not pem")})
	assert.Error(t, err)
}

// =============================================================================
// Authenticate Middleware Tests
// =============================================================================

type stubAuthenticator struct {
	identity *Identity
	err      error
}

func (s stubAuthenticator) Authenticate(context.Context, string) (*Identity, error) {
	return s.identity, s.err
}

func TestAuthenticate_StoresIdentity(t *testing.T) {
	r := gin.New()
	r.Use(Authenticate(stubAuthenticator{identity: &Identity{Subject: "user-1"}}))
	var seen *Identity
	r.GET("/", func(c *gin.Context) {
		seen = IdentityFrom(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.Subject)
}

func TestRequestLogger_IncludesSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := gin.New()
	r.Use(requestLogger(logger))
	r.GET("/open", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/closed", Authenticate(stubAuthenticator{identity: &Identity{Subject: "user-1"}}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.NotContains(t, buf.String(), "subject=")

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/closed", nil))
	assert.Contains(t, buf.String(), "subject=user-1")
	assert.Contains(t, buf.String(), "path=/closed")
}

func TestAuthenticate_Rejects(t *testing.T) {
	r := gin.New()
	r.Use(Authenticate(stubAuthenticator{err: ErrUnauthorized}))
	called := false
	r.GET("/", func(c *gin.Context) {
		called = true
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestNopAuthenticator(t *testing.T) {
	id, err := NopAuthenticator{}.Authenticate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", id.Subject)
}
