// Package seed populates the database with realistic development data.
package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/meethub/backend/internal/dispatch"
	"github.com/meethub/backend/internal/models"
	"github.com/meethub/backend/internal/notify"
	"github.com/meethub/backend/internal/presence"
	"github.com/meethub/backend/internal/store"
	"gorm.io/gorm"
)

// Seeder writes fake users and conversation history
type Seeder struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
}

// NewSeeder creates a seeder over db. Sends go through the regular dispatch
// pipeline so counters and delivery states come out consistent.
func NewSeeder(db *gorm.DB) *Seeder {
	messageStore := store.NewMessageStore(db)
	counters := notify.NewGormAggregator(db)
	return &Seeder{
		db:         db,
		dispatcher: dispatch.NewDispatcher(messageStore, counters, presence.NewRegistry()),
	}
}

// SeedDev populates a development database with users and conversations
func (s *Seeder) SeedDev() error {
	return s.seed(25, 8)
}

// SeedTest populates a test database with minimal data
func (s *Seeder) SeedTest() error {
	return s.seed(4, 3)
}

func (s *Seeder) seed(userCount, messagesPerPair int) error {
	gofakeit.Seed(0)

	users := make([]*models.User, 0, userCount)
	for i := 0; i < userCount; i++ {
		user := &models.User{
			Username:    fmt.Sprintf("%s%d", strings.ToLower(gofakeit.Username()), i),
			DisplayName: gofakeit.Name(),
			AvatarURL:   gofakeit.ImageURL(200, 200),
		}
		if err := s.db.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		users = append(users, user)
	}

	ctx := context.Background()
	for i := 0; i < len(users); i++ {
		// Each user talks to the next two, so every user ends up in a few
		// conversations without the pair count exploding.
		for j := i + 1; j <= i+2 && j < len(users); j++ {
			for k := 0; k < messagesPerPair; k++ {
				sender, receiver := users[i], users[j]
				if k%2 == 1 {
					sender, receiver = receiver, sender
				}
				_, err := s.dispatcher.Send(ctx, sender.ID, receiver.ID, gofakeit.Sentence(gofakeit.Number(3, 12)))
				if err != nil {
					return fmt.Errorf("failed to seed message: %w", err)
				}
			}
		}
	}

	return nil
}

// Clean removes all seeded data
func (s *Seeder) Clean() error {
	for _, stmt := range []string{
		"DELETE FROM messages",
		"DELETE FROM notification_counters",
		"DELETE FROM users",
	} {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
	}
	return nil
}
