// Package directory is the read-only view of user profiles. Account
// management lives on the account platform; this only resolves IDs to
// display data.
package directory

import (
	"context"

	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/models"
	"gorm.io/gorm"
)

// Profile is the public slice of a user record
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsOnline    bool   `json:"is_online"`
}

// Directory resolves user IDs to profiles
type Directory interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	GetProfiles(ctx context.Context, userIDs []string) (map[string]*Profile, error)
}

type directory struct {
	db *gorm.DB
}

// New creates a directory backed by db
func New(db *gorm.DB) Directory {
	return &directory{db: db}
}

func (d *directory) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, errors.Validation("user_id", "user id is required")
	}

	var user models.User
	err := d.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFound("user")
		}
		return nil, errors.Storage("profile lookup", err)
	}

	return toProfile(&user), nil
}

func (d *directory) GetProfiles(ctx context.Context, userIDs []string) (map[string]*Profile, error) {
	profiles := make(map[string]*Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	var users []models.User
	err := d.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error
	if err != nil {
		return nil, errors.Storage("profile lookup", err)
	}

	for i := range users {
		profiles[users[i].ID] = toProfile(&users[i])
	}
	return profiles, nil
}

func toProfile(u *models.User) *Profile {
	return &Profile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsOnline:    u.IsOnline,
	}
}
