package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/healthpilot/healthpilot/internal/agent"
	"github.com/healthpilot/healthpilot/internal/auth"
	"github.com/healthpilot/healthpilot/internal/chat"
	"github.com/healthpilot/healthpilot/internal/config"
	"github.com/healthpilot/healthpilot/internal/database"
	"github.com/healthpilot/healthpilot/internal/exercise"
	"github.com/healthpilot/healthpilot/internal/health"
	"github.com/healthpilot/healthpilot/internal/llm"
	"github.com/healthpilot/healthpilot/internal/logging"
	"github.com/healthpilot/healthpilot/internal/reports"
	"github.com/healthpilot/healthpilot/internal/settings"
	"github.com/healthpilot/healthpilot/internal/stats"
	"github.com/healthpilot/healthpilot/internal/upload"
	"github.com/healthpilot/healthpilot/internal/webhook"
	"github.com/healthpilot/healthpilot/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.RunMigrations(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if cfg.DevMode() {
		if err := database.SeedDevData(db); err != nil {
			logger.Warn("failed to seed dev data", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var provider llm.Provider
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiVisionModel)
		if err != nil {
			logger.Error("failed to create Gemini client", "error", err)
			os.Exit(1)
		}
		provider = gemini
		logger.Info("model provider ready", "model", cfg.GeminiModel, "vision_model", cfg.GeminiVisionModel)
	} else {
		provider = &llm.Stub{}
		logger.Warn("GEMINI_API_KEY not set, using stub model provider")
	}

	conversationAgent, err := agent.New(db, provider, logger, cfg.ChatHistoryWindow)
	if err != nil {
		logger.Error("failed to create agent", "error", err)
		os.Exit(1)
	}
	engine := stats.NewEngine(db)
	compiler := reports.NewCompiler(db, provider, logger)
	notifier := webhook.NewNotifier(cfg.ReportWebhookURL, cfg.ReportWebhookSecret, cfg.DevMode(), logger)

	if err := worker.InitClient(cfg.RedisURL); err != nil {
		logger.Error("failed to init task client", "error", err)
		os.Exit(1)
	}
	stopWorker, err := worker.Start(cfg, db, compiler, notifier)
	if err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}
	stopScheduler, err := worker.StartScheduler(cfg)
	if err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	auth.InitProviders(cfg, logger)

	if !cfg.DevMode() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   cfg.Env == "production",
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions("healthpilot_session", store))

	router.GET("/health", gin.WrapF(health.Handler))

	authRoutes := router.Group("/auth")
	{
		authRoutes.GET("/google/login", auth.HandleLogin)
		authRoutes.GET("/google/callback", auth.HandleCallback(db, logger))
		authRoutes.GET("/logout", auth.HandleLogout(logger))
	}

	api := router.Group("/api", auth.RequireAuth())
	{
		api.POST("/chat/stream", chat.StreamHandler(conversationAgent, logger))
		api.GET("/chat/conversations", chat.ListConversationsHandler(db, logger))
		api.GET("/chat/conversations/:id", chat.GetConversationHandler(db, logger))

		api.GET("/stats/today", stats.TodayHandler(engine, logger))

		api.GET("/reports", reports.GetHandler(db, engine, logger))
		api.POST("/reports/generate", reports.GenerateHandler(db, compiler, worker.EnqueueGenerateReport, logger))

		api.POST("/exercise/record", exercise.RecordHandler(db, conversationAgent, logger))
		api.GET("/exercise/types", exercise.TypesHandler())

		api.POST("/upload/image", upload.ImageHandler(db, provider, conversationAgent, logger))

		api.GET("/settings", settings.GetHandler(db, logger))
		api.PUT("/settings", settings.UpdateHandler(db, logger))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	stopScheduler()
	stopWorker()
	if err := worker.CloseClient(); err != nil {
		logger.Warn("failed to close task client", "error", err)
	}
	if err := database.Close(db); err != nil {
		logger.Warn("failed to close database", "error", err)
	}
	logger.Info("shutdown complete")
}
