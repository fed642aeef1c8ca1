package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aulanet/aulatiempo-backend/internal/config"
)

// ErrTokenInvalid is returned for any token that fails parsing or claims
// validation.
var ErrTokenInvalid = errors.New("invalid token")

// TokenType distinguishes the audiences minted by the identity provider.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
)

// Claims extends JWT standard claims with app-specific fields. Tokens are
// minted by the external identity provider with the shared JWT_SECRET;
// this service only validates them. MintStudentToken exists for the CLI,
// seeding, and tests.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	StudentID int       `json:"student_id"`
}

// Service validates and (for dev tooling) mints JWTs.
type Service struct {
	cfg *config.Config
}

// NewService creates a new auth Service.
func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// MintStudentToken creates a student JWT compatible with what the identity
// provider issues.
func (s *Service) MintStudentToken(studentID int) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(studentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeStudent,
		StudentID: studentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
