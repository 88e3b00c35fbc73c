// Package token issues and verifies the signed, time-bound bearer tokens
// that identify a user to the API.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the expiry horizon used when none is configured.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrInvalid is wrapped by every Verify failure.
	ErrInvalid = errors.New("invalid token")

	// The following narrow ErrInvalid for logging and metrics.
	ErrExpired   = errors.New("token expired")
	ErrMalformed = errors.New("token malformed")
	ErrSignature = errors.New("token signature invalid")
)

// Claims is the token payload: subject (user id), issued-at and expiry.
type Claims struct {
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 tokens with a single server secret.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a token service. A non-positive ttl falls back to DefaultTTL.
func NewService(secret string, ttl time.Duration, opts ...Option) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured expiry horizon.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token binding userID with the current time and expiry horizon.
func (s *Service) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("issue token: empty user id")
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm and expiry and returns the embedded user id.
// It does not check that the user still exists.
func (s *Service) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalid, classify(err))
	}
	if !tok.Valid {
		return "", fmt.Errorf("%w: %w", ErrInvalid, ErrMalformed)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalid, ErrMalformed)
	}
	return claims.Subject, nil
}

// Reason maps a Verify error to a short label for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrSignature):
		return "signature"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignature
	default:
		return ErrMalformed
	}
}
