package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/meethub/backend/internal/errors"
	"github.com/meethub/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.NotificationCounter{}))

	t.Cleanup(func() {
		db.Exec("DELETE FROM notification_counters")
	})

	return db
}

func TestIncrementCreatesLazily(t *testing.T) {
	a := NewGormAggregator(setupTestDB(t))
	ctx := context.Background()

	counter, err := a.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, counter)

	counter, err = a.Increment(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, counter)
	assert.Equal(t, int64(1), counter.UnreadCount)
	assert.False(t, counter.IsRead)
}

func TestIncrementAccumulates(t *testing.T) {
	a := NewGormAggregator(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.Increment(ctx, "u2")
		require.NoError(t, err)
	}

	counter, err := a.Get(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, counter)
	assert.Equal(t, int64(3), counter.UnreadCount)
}

func TestIncrementRequiresReceiver(t *testing.T) {
	a := NewGormAggregator(setupTestDB(t))

	_, err := a.Increment(context.Background(), "")
	assert.True(t, errors.IsValidation(err))
}

func TestConcurrentIncrementsAreNeverLost(t *testing.T) {
	a := NewGormAggregator(setupTestDB(t))
	ctx := context.Background()

	const senders = 20
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Increment(ctx, "u2")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counter, err := a.Get(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, counter)
	assert.Equal(t, int64(senders), counter.UnreadCount)
}

func TestResetForUser(t *testing.T) {
	a := NewGormAggregator(setupTestDB(t))
	ctx := context.Background()

	_, err := a.Increment(ctx, "u2")
	require.NoError(t, err)

	require.NoError(t, a.ResetForUser(ctx, "u2"))

	counter, err := a.Get(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, counter)
	assert.Equal(t, int64(0), counter.UnreadCount)
	assert.True(t, counter.IsRead)
}

func TestResetUnknownReceiverIsNoop(t *testing.T) {
	a := NewGormAggregator(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, a.ResetForUser(ctx, "ghost"))

	counter, err := a.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, counter)
}

func TestIncrementAfterResetMarksUnread(t *testing.T) {
	a := NewGormAggregator(setupTestDB(t))
	ctx := context.Background()

	_, err := a.Increment(ctx, "u2")
	require.NoError(t, err)
	require.NoError(t, a.ResetForUser(ctx, "u2"))

	counter, err := a.Increment(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.UnreadCount)
	assert.False(t, counter.IsRead)
}
