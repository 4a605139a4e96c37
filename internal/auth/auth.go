// Package auth verifies the signed tokens the account platform issues and
// resolves them to stored users.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/models"
	"gorm.io/gorm"
)

// Verifier resolves a bearer token to a user. Every entry point (REST and
// gateway upgrade) goes through this.
type Verifier interface {
	VerifyToken(ctx context.Context, tokenString string) (*models.User, error)
}

// Service implements Verifier with HMAC-signed JWTs
type Service struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewService creates an auth service signing and verifying with jwtSecret
func NewService(db *gorm.DB, jwtSecret []byte) *Service {
	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  24 * time.Hour,
	}
}

// IssueToken signs a token for a user. Login itself lives on the account
// platform; this exists for the CLI, the seeder and tests.
func (s *Service) IssueToken(user *models.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.tokenTTL)

	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      expiresAt.Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// VerifyToken validates a JWT and fetches the fresh user row. Any failure
// surfaces as an AUTH_ERROR; callers never learn whether the signature, the
// expiry or the user lookup was the problem.
func (s *Service) VerifyToken(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, errors.Auth("missing token")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.Auth("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Auth("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, errors.Auth("invalid user_id in token")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, errors.Auth("unknown user")
	}

	return &user, nil
}
