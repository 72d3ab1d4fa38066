// Package auth issues and verifies the signed bearer tokens that tie an HTTP
// client to its verification session.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "verifield-api"

// ErrInvalidToken indicates the presented token failed signature or claim validation.
var ErrInvalidToken = errors.New("auth: invalid session token")

// TokenManager signs and verifies HS256 session tokens carrying the session identifier.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// TokenManagerDeps lists the inputs required to construct a TokenManager.
type TokenManagerDeps struct {
	SigningSecret string
	TTL           time.Duration
	Clock         func() time.Time
}

// NewTokenManager validates dependencies and returns a ready manager.
func NewTokenManager(deps TokenManagerDeps) (*TokenManager, error) {
	if strings.TrimSpace(deps.SigningSecret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if deps.TTL <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	base := clock
	clock = func() time.Time { return base().UTC() }

	return &TokenManager{
		secret: []byte(deps.SigningSecret),
		ttl:    deps.TTL,
		clock:  clock,
	}, nil
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// Issue mints a signed token bound to the supplied session identifier.
func (m *TokenManager) Issue(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("auth: session id is required")
	}

	now := m.clock()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and returns the embedded session identifier.
func (m *TokenManager) Verify(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clock),
		jwt.WithIssuer(tokenIssuer),
	)

	claims := &sessionClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
