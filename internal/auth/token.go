package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gurnoornatt/code-chat/internal/core"
)

// DefaultTokenTTL is the lifetime of tokens handed out by login and registration.
const DefaultTokenTTL = 30 * time.Minute

// Role is the closed set of principal kinds a token may carry.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// ParseRole rejects anything outside {student, admin}.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Principal is the identity resolved from a verified token for one request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 access tokens with a single process-wide secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock swaps the time source. Tests use it to move past expiry.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// TTL is the lifetime applied by IssueDefault.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs {sub, role, exp = now+ttl}.
func (s *TokenService) Issue(subjectID string, role Role, ttl time.Duration) (string, error) {
	if subjectID == "" {
		return "", errors.New("empty subject")
	}
	if _, err := ParseRole(string(role)); err != nil {
		return "", err
	}
	now := s.now().UTC()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// IssueDefault issues with the configured TTL.
func (s *TokenService) IssueDefault(subjectID string, role Role) (string, error) {
	return s.Issue(subjectID, role, s.ttl)
}

// Verify returns the principal or core.ErrInvalidToken. There is no partial result.
func (s *TokenService) Verify(tokenString string) (Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}
	if !token.Valid {
		return Principal{}, core.ErrInvalidToken
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing sub", core.ErrInvalidToken)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}
	return Principal{ID: claims.Subject, Role: role}, nil
}
