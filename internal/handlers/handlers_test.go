package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/meethub/backend/internal/directory"
	"github.com/meethub/backend/internal/dispatch"
	applogger "github.com/meethub/backend/internal/logger"
	"github.com/meethub/backend/internal/middleware"
	"github.com/meethub/backend/internal/models"
	"github.com/meethub/backend/internal/notify"
	"github.com/meethub/backend/internal/presence"
	"github.com/meethub/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	applogger.Log = zap.NewNop()
	applogger.SugaredLog = applogger.Log.Sugar()
	os.Exit(m.Run())
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	alice  *models.User
	bob    *models.User
}

// asUser fakes the auth middleware by injecting the user directly
func asUser(user *models.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, user)
		c.Set(middleware.ContextUserIDKey, user.ID)
		c.Next()
	}
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Message{}, &models.NotificationCounter{}))

	t.Cleanup(func() {
		db.Exec("DELETE FROM users")
		db.Exec("DELETE FROM messages")
		db.Exec("DELETE FROM notification_counters")
	})

	alice := &models.User{Username: "alice", DisplayName: "Alice"}
	bob := &models.User{Username: "bob", DisplayName: "Bob"}
	require.NoError(t, db.Create(alice).Error)
	require.NoError(t, db.Create(bob).Error)

	messageStore := store.NewMessageStore(db)
	counters := notify.NewGormAggregator(db)
	dispatcher := dispatch.NewDispatcher(messageStore, counters, presence.NewRegistry())
	h := New(dispatcher, messageStore, counters, directory.New(db))

	router := gin.New()
	api := router.Group("/api", asUser(alice))
	{
		api.POST("/messages", h.SendMessage)
		api.POST("/messages/read", h.MarkMessagesRead)
		api.GET("/conversations/:userID/messages", h.GetConversation)
		api.GET("/notifications", h.GetNotifications)
		api.POST("/notifications/read", h.ResetNotifications)
		api.GET("/users/:userID", h.GetProfile)
	}

	return &testEnv{router: router, db: db, alice: alice, bob: bob}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestSendMessageEndpoint(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/messages", SendMessageRequest{
		ReceiverID: env.bob.ID,
		Content:    "hello bob",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Message   messageResponse `json:"message"`
		Delivered bool            `json:"delivered"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello bob", resp.Message.Content)
	assert.Equal(t, "pending", resp.Message.DeliveryState)
	assert.False(t, resp.Delivered)

	var count int64
	env.db.Model(&models.Message{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSendMessageToSelfRejected(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/messages", SendMessageRequest{
		ReceiverID: env.alice.ID,
		Content:    "talking to myself",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestSendMessageMissingBodyRejected(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/messages", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetConversationWithCursor(t *testing.T) {
	env := setupEnv(t)

	for i := 0; i < 5; i++ {
		w := env.do(t, http.MethodPost, "/api/messages", SendMessageRequest{
			ReceiverID: env.bob.ID,
			Content:    fmt.Sprintf("message %d", i),
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/conversations/"+env.bob.ID+"/messages?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Messages   []messageResponse `json:"messages"`
		NextCursor int64             `json:"next_cursor"`
		Count      int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Equal(t, 3, page.Count)
	assert.Equal(t, "message 0", page.Messages[0].Content)

	// Second page resumes from the cursor
	w = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages?since=%d", env.bob.ID, page.NextCursor), nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Equal(t, 2, page.Count)
	assert.Equal(t, "message 3", page.Messages[0].Content)
	assert.Equal(t, "message 4", page.Messages[1].Content)
}

func TestGetConversationBadCursorRejected(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodGet, "/api/conversations/"+env.bob.ID+"/messages?since=banana", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestMarkMessagesReadUnknownID(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/messages/read", MarkReadRequest{
		MessageIDs: []string{"00000000-0000-0000-0000-000000000000"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestNotificationsLifecycle(t *testing.T) {
	env := setupEnv(t)

	// Never-notified user gets a zero counter
	w := env.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var counter struct {
		MessageCount int64 `json:"message_count"`
		IsRead       bool  `json:"is_read"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counter))
	assert.Zero(t, counter.MessageCount)
	assert.True(t, counter.IsRead)

	// Bob sends alice two messages directly through the store path
	messageStore := store.NewMessageStore(env.db)
	counters := notify.NewGormAggregator(env.db)
	d := dispatch.NewDispatcher(messageStore, counters, presence.NewRegistry())
	for i := 0; i < 2; i++ {
		_, err := d.Send(httptest.NewRequest("GET", "/", nil).Context(),
			env.bob.ID, env.alice.ID, "hi alice")
		require.NoError(t, err)
	}

	w = env.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counter))
	assert.Equal(t, int64(2), counter.MessageCount)
	assert.False(t, counter.IsRead)

	// Reset via the tray acknowledgment
	w = env.do(t, http.MethodPost, "/api/notifications/read", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/notifications", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counter))
	assert.Zero(t, counter.MessageCount)
	assert.True(t, counter.IsRead)
}

func TestGetProfile(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodGet, "/api/users/"+env.bob.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var profile struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, "bob", profile.Username)
	assert.Equal(t, "Bob", profile.DisplayName)
}

func TestGetProfileUnknownUser(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodGet, "/api/users/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
