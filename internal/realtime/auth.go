package realtime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurant-sync/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies a dashboard session.
type Claims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Authenticator issues and verifies HS256 dashboard tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for subject. An empty role defaults to "staff".
func (a *Authenticator) Issue(subject, role string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("token secret is not configured")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("token subject is required: %w", apperr.ErrInvalidInput)
	}
	if role == "" {
		role = "staff"
	}
	now := a.now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks signature, issuer and expiry. Every failure is Unauthorized.
func (a *Authenticator) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, fmt.Errorf("token is required: %w", apperr.ErrUnauthorized)
	}
	if len(a.secret) == 0 {
		return Claims{}, fmt.Errorf("token secret is not configured: %w", apperr.ErrUnauthorized)
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	if parsed.Subject == "" {
		return Claims{}, fmt.Errorf("token subject is missing: %w", apperr.ErrUnauthorized)
	}
	return Claims{
		Subject:   parsed.Subject,
		Role:      parsed.Role,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("token is expired: %w", apperr.ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("token signature is invalid: %w", apperr.ErrUnauthorized)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("token issuer mismatch: %w", apperr.ErrUnauthorized)
	default:
		return fmt.Errorf("token is invalid: %v: %w", err, apperr.ErrUnauthorized)
	}
}
