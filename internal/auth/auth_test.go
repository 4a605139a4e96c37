package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupService(t *testing.T) (*Service, *models.User) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}))

	t.Cleanup(func() {
		db.Exec("DELETE FROM users")
	})

	user := &models.User{Username: "alice", DisplayName: "Alice"}
	require.NoError(t, db.Create(user).Error)

	return NewService(db, []byte("test_jwt_secret_key")), user
}

func TestIssueAndVerifyToken(t *testing.T) {
	svc, user := setupService(t)

	token, expiresAt, err := svc.IssueToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	verified, err := svc.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)
	assert.Equal(t, "alice", verified.Username)
}

func TestVerifyTokenRejectsMissing(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.VerifyToken(context.Background(), "")
	assert.True(t, errors.IsAuth(err))
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.VerifyToken(context.Background(), "not-a-jwt")
	assert.True(t, errors.IsAuth(err))
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	svc, user := setupService(t)

	other := &Service{db: svc.db, jwtSecret: []byte("other_secret"), tokenTTL: time.Hour}
	token, _, err := other.IssueToken(user)
	require.NoError(t, err)

	_, err = svc.VerifyToken(context.Background(), token)
	assert.True(t, errors.IsAuth(err))
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	svc, user := setupService(t)

	claims := jwt.MapClaims{
		"user_id": user.ID,
		"exp":     time.Now().Add(-time.Hour).Unix(),
		"iat":     time.Now().Add(-2 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test_jwt_secret_key"))
	require.NoError(t, err)

	_, err = svc.VerifyToken(context.Background(), signed)
	assert.True(t, errors.IsAuth(err))
}

func TestVerifyTokenRejectsUnknownUser(t *testing.T) {
	svc, user := setupService(t)

	token, _, err := svc.IssueToken(user)
	require.NoError(t, err)

	require.NoError(t, svc.db.Unscoped().Delete(&models.User{}, "id = ?", user.ID).Error)

	_, err = svc.VerifyToken(context.Background(), token)
	assert.True(t, errors.IsAuth(err))
}
