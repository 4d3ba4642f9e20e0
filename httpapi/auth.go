package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// identityKey is the gin context key holding the caller's Identity.
const identityKey = "espalier_identity"

// ErrUnauthorized is returned when a bearer token is missing or invalid.
var ErrUnauthorized = errors.New("espalier: unauthorized")

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Issuer  string
}

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// NopAuthenticator accepts every request as an anonymous caller. It is used when
// authentication is disabled.
type NopAuthenticator struct{}

// Authenticate always succeeds.
func (NopAuthenticator) Authenticate(context.Context, string) (*Identity, error) {
	return &Identity{Subject: "anonymous"}, nil
}

// JWTConfig configures a JWTAuthenticator. Exactly one of HMACSecret and
// RSAPublicKeyPEM must be set.
type JWTConfig struct {
	// HMACSecret verifies HS256/HS384/HS512 tokens.
	HMACSecret []byte

	// RSAPublicKeyPEM verifies RS256/RS384/RS512 tokens.
	RSAPublicKeyPEM []byte

	// Issuer and Audience, when set, must match the token's iss and aud claims.
	Issuer   string
	Audience string

	// Leeway tolerates clock skew when checking exp and nbf.
	Leeway time.Duration
}

// JWTAuthenticator verifies signed JWTs.
type JWTAuthenticator struct {
	key    any
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a JWTAuthenticator from cfg.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithLeeway(cfg.Leeway)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var key any
	switch {
	case len(cfg.HMACSecret) > 0 && len(cfg.RSAPublicKeyPEM) > 0:
		return nil, errors.New("jwt: set either an HMAC secret or an RSA public key, not both")
	case len(cfg.HMACSecret) > 0:
		key = cfg.HMACSecret
		opts = append(opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	case len(cfg.RSAPublicKeyPEM) > 0:
		pub, err := jwt.ParseRSAPublicKeyFromPEM(cfg.RSAPublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("jwt: parse public key: %w", err)
		}
		key = pub
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	default:
		return nil, errors.New("jwt: no verification key configured")
	}

	return &JWTAuthenticator{key: key, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate verifies token's signature and registered claims.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return &Identity{Subject: claims.Subject, Issuer: claims.Issuer}, nil
}

// Authenticate returns middleware that rejects requests without a valid bearer
// token and stores the caller's Identity in the context.
func Authenticate(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := a.Authenticate(c.Request.Context(), extractBearerToken(c))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="espalier"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid or missing bearer token"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the Identity stored by Authenticate, or nil.
func IdentityFrom(c *gin.Context) *Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(*Identity); ok {
			return id
		}
	}
	return nil
}

// extractBearerToken returns the token from "Authorization: Bearer <token>", or "".
// The scheme is case-insensitive.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
