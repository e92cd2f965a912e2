// Package auth verifies the bearer tokens issued by the upstream application
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gatekeeper/internal/common/errors"
)

const (
	issuer     = "gatekeeper"
	defaultTTL = 24 * time.Hour
)

// Claims are the token fields the gateway relies on. Tokens without a
// user_id fall back to the standard subject.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Plan   string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// Caller returns the authenticated subject of the token
func (c *Claims) Caller() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

type Auth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Auth)

// WithTTL sets the lifetime of generated tokens
func WithTTL(ttl time.Duration) Option {
	return func(a *Auth) { a.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

// New returns nil when secret is empty; a nil *Auth treats every caller as
// anonymous
func New(secret string, opts ...Option) *Auth {
	if secret == "" {
		return nil
	}
	a := &Auth{
		secret: []byte(secret),
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GenerateJWT signs a token for userID, used by the CLI and tests to mint
// tokens the upstream would normally issue
func (a *Auth) GenerateJWT(userID, plan string) (string, error) {
	if a == nil {
		return "", errors.ConfigError("JWT secret is not configured")
	}

	now := a.now()
	claims := &Claims{
		UserID: userID,
		Plan:   plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT verifies the signature and expiry of tokenString
func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	if a == nil {
		return nil, errors.AuthError("token verification is disabled")
	}
	if tokenString == "" {
		return nil, errors.AuthError("token is empty")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.AuthError(fmt.Sprintf("invalid token: %v", err))
	}
	if !token.Valid {
		return nil, errors.AuthError("invalid token")
	}
	if claims.Caller() == "" {
		return nil, errors.AuthError("token has no subject")
	}

	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
