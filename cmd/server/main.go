package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/meethub/backend/internal/auth"
	"github.com/meethub/backend/internal/cache"
	"github.com/meethub/backend/internal/database"
	"github.com/meethub/backend/internal/directory"
	"github.com/meethub/backend/internal/dispatch"
	"github.com/meethub/backend/internal/gateway"
	"github.com/meethub/backend/internal/handlers"
	"github.com/meethub/backend/internal/logger"
	"github.com/meethub/backend/internal/middleware"
	"github.com/meethub/backend/internal/notify"
	"github.com/meethub/backend/internal/presence"
	"github.com/meethub/backend/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; system environment still applies
	_ = godotenv.Load()

	if err := logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE")); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Log.Info("=== MeetHub messaging server starting ===")

	if err := database.Initialize(); err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}
	defer database.Close()

	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}

	db := database.DB

	// Counter backend: Redis when configured so several server processes share
	// one set of counters, relational otherwise.
	var counters notify.Aggregator
	if host := os.Getenv("REDIS_HOST"); host != "" {
		redisClient, err := cache.NewRedisClient(host, os.Getenv("REDIS_PORT"), os.Getenv("REDIS_PASSWORD"))
		if err != nil {
			logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		counters = notify.NewRedisAggregator(redisClient)
		logger.Log.Info("Notification counters backed by Redis")
	} else {
		counters = notify.NewGormAggregator(db)
		logger.Log.Info("Notification counters backed by the database")
	}

	registry := presence.NewRegistry()
	messageStore := store.NewMessageStore(db)
	dispatcher := dispatch.NewDispatcher(messageStore, counters, registry)
	authService := auth.NewService(db, jwtSecret)

	hub := gateway.NewHub(registry)
	gw := gateway.NewHandler(hub, authService, dispatcher, db)
	gw.RegisterDefaultHandlers()
	go hub.Run()

	h := handlers.New(dispatcher, messageStore, counters, directory.New(db))

	gin.SetMode(ginMode())
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.GinLoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins()
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if err := database.Health(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"service":   "meethub-backend",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Real-time gateway
	r.GET("/ws", gw.HandleWebSocket)
	r.GET("/ws/stats", gw.HandleStats)

	api := r.Group("/api", middleware.AuthRequired(authService), middleware.RateLimit())
	{
		api.POST("/messages", middleware.RateLimitSend(), h.SendMessage)
		api.POST("/messages/read", h.MarkMessagesRead)
		api.GET("/conversations/:userID/messages", h.GetConversation)
		api.GET("/notifications", h.GetNotifications)
		api.POST("/notifications/read", h.ResetNotifications)
		api.GET("/users/:userID", h.GetProfile)
		api.POST("/presence/online-status", gw.HandleOnlineStatus)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("HTTP server listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := gw.Shutdown(ctx); err != nil {
		logger.Log.Warn("Gateway shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	logger.Log.Info("Server stopped")
}

func ginMode() string {
	if os.Getenv("ENVIRONMENT") == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}

func allowedOrigins() []string {
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		return []string{origins}
	}
	return []string{"*"}
}
