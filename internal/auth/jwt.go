package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer     = "trajethub"
	tokenTypeAccess = "access"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrWrongTokenType   = errors.New("invalid token type")
	ErrMissingPrincipal = errors.New("missing principal")
)

// Claims is the access token payload. Kind tells which account
// collection PrincipalID belongs to.
type Claims struct {
	PrincipalID string         `json:"id"`
	Kind        principal.Kind `json:"kind"`
	Roles       []string       `json:"roles,omitempty"`
	TokenType   string         `json:"typ"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret    []byte
	accessTTL time.Duration
	parser    *jwt.Parser
	now       func() time.Time
}

func NewManager(secret string, accessTTL time.Duration) *Manager {
	m := &Manager{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m
}

// Issue signs an access token for the principal and returns its expiry.
func (m *Manager) Issue(principalID string, kind principal.Kind, roles []string) (string, time.Time, error) {
	if principalID == "" || !kind.IsValid() {
		return "", time.Time{}, ErrMissingPrincipal
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		PrincipalID: principalID,
		Kind:        kind,
		Roles:       roles,
		TokenType:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

func (m *Manager) parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccessToken checks signature, issuer and expiry, then the access
// specific claims.
func (m *Manager) VerifyAccessToken(tokenStr string) (*Claims, error) {
	claims, err := m.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	if claims.PrincipalID == "" || claims.Subject != claims.PrincipalID || !claims.Kind.IsValid() {
		return nil, ErrMissingPrincipal
	}
	return claims, nil
}

// HashToken is a keyed digest for one-time tokens (password reset) so the
// raw value is never stored.
func (m *Manager) HashToken(raw string) string {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}
