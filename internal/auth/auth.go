// Package auth issues and verifies the bearer tokens that guard the
// gateway's admin surface (agent listing, economic analytics).
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthDisabled is returned when no signing secret is configured.
	ErrAuthDisabled = errors.New("auth: disabled, no secret configured")

	// ErrInvalidToken is returned for any token that fails verification.
	// The cause is deliberately not propagated to callers.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Principal is the verified identity embedded in a token.
type Principal struct {
	Subject string
	Name    string
}

// JWTService signs and verifies HMAC-SHA256 tokens.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService builds a JWT helper. An empty secret yields a disabled
// service whose Generate/Validate return ErrAuthDisabled.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether a signing secret is configured.
func (s *JWTService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

type claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the given principal.
func (s *JWTService) Generate(p Principal) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(p.Subject) == "" {
		return "", errors.New("auth: subject required")
	}

	c := claims{
		Name: strings.TrimSpace(p.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  p.Subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

// Validate parses and verifies a token and returns the principal in it.
func (s *JWTService) Validate(token string) (Principal, error) {
	if !s.Enabled() {
		return Principal{}, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || strings.TrimSpace(c.Subject) == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: c.Subject, Name: c.Name}, nil
}

// FromAuthorizationHeader extracts the bearer token from an Authorization
// header value, returning "" when the header is absent or not Bearer-typed.
func FromAuthorizationHeader(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
