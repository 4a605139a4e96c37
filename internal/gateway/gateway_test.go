package gateway

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/meethub/backend/internal/dispatch"
	"github.com/meethub/backend/internal/event"
	applogger "github.com/meethub/backend/internal/logger"
	"github.com/meethub/backend/internal/models"
	"github.com/meethub/backend/internal/notify"
	"github.com/meethub/backend/internal/presence"
	"github.com/meethub/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	applogger.Log = zap.NewNop()
	applogger.SugaredLog = applogger.Log.Sugar()
	os.Exit(m.Run())
}

func TestNewHub(t *testing.T) {
	hub := NewHub(presence.NewRegistry())
	assert.NotNil(t, hub)
	assert.NotNil(t, hub.registry)
	assert.NotNil(t, hub.allClients)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
	assert.NotNil(t, hub.stats)
	assert.NotNil(t, hub.handlers)
}

func TestRateLimiter(t *testing.T) {
	// 5 per second with a burst of 10
	rl := NewRateLimiter(5, 10)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(), "Request %d should be allowed", i+1)
	}

	assert.False(t, rl.Allow(), "Request 11 should be denied")

	time.Sleep(300 * time.Millisecond)
	assert.True(t, rl.Allow(), "Request after wait should be allowed")
}

func TestDefaultRateLimitConfig(t *testing.T) {
	config := DefaultRateLimitConfig()

	assert.Equal(t, 10, config.MaxEventsPerSecond)
	assert.Equal(t, 20, config.BurstSize)
}

func TestHubRegisterHandler(t *testing.T) {
	hub := NewHub(presence.NewRegistry())

	hub.RegisterHandler("test_type", func(client *Client, env *event.Envelope) error {
		return nil
	})

	handler, ok := hub.GetHandler("test_type")
	assert.True(t, ok)
	assert.NotNil(t, handler)

	_, ok = hub.GetHandler("nonexistent")
	assert.False(t, ok)
}

func TestHubStats(t *testing.T) {
	hub := NewHub(presence.NewRegistry())

	stats := hub.GetStats()
	assert.Equal(t, int64(0), stats.TotalConnections)
	assert.Equal(t, int64(0), stats.ActiveConnections)
	assert.Equal(t, int64(0), stats.EventsReceived)
	assert.Equal(t, int64(0), stats.EventsSent)

	str := stats.String()
	assert.Contains(t, str, "connections=0/0")
}

func TestHubRegistryStartsEmpty(t *testing.T) {
	hub := NewHub(presence.NewRegistry())

	assert.False(t, hub.Registry().IsOnline("user-123"))
	assert.Empty(t, hub.Registry().OnlineUsers())
}

func TestHubRegisterBindsClientToRegistry(t *testing.T) {
	registry := presence.NewRegistry()
	hub := NewHub(registry)
	go hub.Run()
	defer hub.cancel()

	client := &Client{
		hub:    hub,
		userID: "user-123",
		send:   make(chan []byte, sendBufferSize),
	}
	client.ctx, client.cancel = hub.ctx, func() {}

	hub.Register(client)

	assert.Eventually(t, func() bool {
		return registry.IsOnline("user-123")
	}, time.Second, 10*time.Millisecond)

	hub.Unregister(client)

	assert.Eventually(t, func() bool {
		return !registry.IsOnline("user-123")
	}, time.Second, 10*time.Millisecond)
}

func TestClientSendAfterClose(t *testing.T) {
	client := &Client{
		userID: "user-123",
		send:   make(chan []byte, 1),
		closed: true,
	}

	err := client.Send(event.New(event.TypeSystem, nil))
	assert.Error(t, err)
}

func TestSendAfterDisconnectDoesNotPanic(t *testing.T) {
	hub := NewHub(presence.NewRegistry())

	client := NewClient(hub, nil, "user-123", "alice")
	hub.registerClient(client)
	hub.unregisterClient(client)

	assert.NotPanics(t, func() {
		err := client.Send(event.New(event.TypeSystem, nil))
		assert.Error(t, err)
	})
}

func TestConcurrentSendDuringDisconnect(t *testing.T) {
	hub := NewHub(presence.NewRegistry())

	client := NewClient(hub, nil, "user-123", "alice")
	hub.registerClient(client)

	// Pushers race the teardown; none of them may panic
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = client.Send(event.New(event.TypeNewMessage, nil))
			}
		}()
	}

	hub.unregisterClient(client)
	wg.Wait()

	err := client.Send(event.New(event.TypeNewMessage, nil))
	assert.Error(t, err)
}

func TestSendMessagePersistsAfterClientContextCanceled(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Message{}, &models.NotificationCounter{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM messages")
		db.Exec("DELETE FROM notification_counters")
	})

	registry := presence.NewRegistry()
	hub := NewHub(registry)
	d := dispatch.NewDispatcher(store.NewMessageStore(db), notify.NewGormAggregator(db), registry)
	h := NewHandler(hub, nil, d, db)
	h.RegisterDefaultHandlers()

	client := NewClient(hub, nil, "alice", "alice")
	client.cancel() // connection torn down while the event is in flight

	handler, ok := hub.GetHandler(event.TypeSendMessage)
	require.True(t, ok)

	env := event.New(event.TypeSendMessage, event.SendMessagePayload{
		ReceiverID: "bob",
		Content:    "hello",
	})
	require.NoError(t, handler(client, env))

	// The append survives the dead connection
	var count int64
	db.Model(&models.Message{}).Where("receiver_id = ?", "bob").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestClientSendBufferFull(t *testing.T) {
	hub := NewHub(presence.NewRegistry())
	client := &Client{
		hub:    hub,
		userID: "user-123",
		send:   make(chan []byte), // unbuffered, nothing draining
	}
	client.ctx, client.cancel = hub.ctx, func() {}

	err := client.Send(event.New(event.TypeSystem, nil))
	assert.Error(t, err)
}
