package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/MydrieDybiStudios/WhyHot/internal/chat"
	"github.com/MydrieDybiStudios/WhyHot/internal/config"
	"github.com/MydrieDybiStudios/WhyHot/internal/db"
	"github.com/MydrieDybiStudios/WhyHot/internal/friend"
	"github.com/MydrieDybiStudios/WhyHot/internal/middleware"
	"github.com/MydrieDybiStudios/WhyHot/internal/upload"
	"github.com/MydrieDybiStudios/WhyHot/internal/user"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Platform layer: PostgreSQL
	database, err := db.NewDatabase(cfg.DSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer database.Conn.Close()
	logger.Info("connected to postgres")

	if err := database.AutoMigrate(); err != nil {
		logger.Error("migrate schema", "error", err)
		os.Exit(1)
	}
	logger.Info("schema initialized")

	// 3. Platform layer: Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Error("connect redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	// 4. User feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 5. Friend feature
	friendRepo := friend.NewRepository(database.Conn)
	friendHandler := friend.NewHandler(friendRepo, logger)

	// 6. Chat feature: registry + hub + broker engines
	chatRepo := chat.NewRepository(database.Conn)
	registry := chat.NewRegistry()
	broker := chat.NewRedisBroker(redisClient)
	hub := chat.NewHub(registry, chatRepo, broker, logger)

	go hub.Run(ctx)
	go hub.SubscribeBroker(ctx)

	chatHandler := chat.NewHandler(hub, chatRepo)

	// 7. Uploads
	uploadHandler, err := upload.NewHandler(cfg.UploadDir, logger)
	if err != nil {
		logger.Error("init uploads", "error", err)
		os.Exit(1)
	}

	auth := middleware.NewAuth(userService)

	// 8. Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	// Protected (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(auth.Handle)

		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Put("/api/profile", userHandler.UpdateProfile)

		// WebSocket (real-time)
		r.Get("/ws", chatHandler.ServeWs)
		r.Get("/api/messages", chatHandler.GetHistory)

		r.Post("/api/friends", friendHandler.Send)
		r.Post("/api/friends/accept", friendHandler.Accept)
		r.Get("/api/friends", friendHandler.List)
		r.Get("/api/friends/requests", friendHandler.Requests)

		r.Post("/api/upload", uploadHandler.Upload)
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}()

	logger.Info("server starting", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
