package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/darts-duel/config"
	"github.com/Dosada05/darts-duel/db"
	"github.com/Dosada05/darts-duel/handlers"
	"github.com/Dosada05/darts-duel/realtime"
	"github.com/Dosada05/darts-duel/repositories"
	api "github.com/Dosada05/darts-duel/routes"
	"github.com/Dosada05/darts-duel/scoring"
	"github.com/Dosada05/darts-duel/services"
	"github.com/Dosada05/darts-duel/storage"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
)

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	if err := db.Migrate(dbConn); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Объектное хранилище аватаров (опционально)
	var uploader storage.FileUploader
	if cfg.R2Configured() {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	} else {
		logger.Warn("R2 storage not configured, avatar uploads disabled")
	}

	// Realtime-хаб: по комнате на матч
	wsHub := realtime.NewHub()
	go wsHub.Run()
	logger.Info("WebSocket hub started")

	// Репозитории
	userRepo := repositories.NewPostgresUserRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	lockRepo := repositories.NewPostgresLockRepository(dbConn)
	visitRepo := repositories.NewPostgresVisitRepository(dbConn)
	logger.Info("repositories initialized")

	// Сервисы
	authService := services.NewAuthService(userRepo)
	userService := services.NewUserService(userRepo, uploader)
	matchService := services.NewMatchService(
		matchRepo,
		lockRepo,
		userRepo,
		visitRepo,
		scoring.NewX01Engine(),
		wsHub,
		logger,
		cfg.ChallengeTTL,
		cfg.JoinWindow,
	)
	logger.Info("services initialized")

	// Фоновый свип истёкших дедлайнов. Клиенты и сами дергают expire-match,
	// когда замечают просроченный дедлайн; свип подчищает матчи, к которым
	// никто не вернулся. Оба пути идут через одни и те же guarded update'ы.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		logger.Info("expiry sweep started", slog.Duration("interval", cfg.SweepInterval))

		for range ticker.C {
			expired, err := matchService.ExpireOverdue(context.Background())
			if err != nil {
				logger.Error("expiry sweep failed", slog.Any("error", err))
				continue
			}
			if expired > 0 {
				logger.Info("expiry sweep finished", slog.Int64("expired", expired))
			}
		}
	}()

	// HTTP-обработчики
	authHandler := handlers.NewAuthHandler(authService, cfg.JWTSecretKey)
	userHandler := handlers.NewUserHandler(userService)
	matchHandler := handlers.NewMatchHandler(matchService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub, matchService, cfg.JWTSecretKey)
	logger.Info("HTTP handlers initialized")

	router := chi.NewRouter()
	api.SetupRoutes(router, cfg.JWTSecretKey, authHandler, userHandler, matchHandler, webSocketHandler)
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
