package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bayou-dm/internal/config"
	"bayou-dm/internal/database"
	"bayou-dm/internal/engine"
	"bayou-dm/internal/handlers"
	"bayou-dm/internal/middleware"
	"bayou-dm/internal/notify"
	"bayou-dm/internal/storage"
	"bayou-dm/internal/utils"
	"bayou-dm/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	middleware.SetJWTSecret(cfg.JWTSecret)

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("Failed to connect to the database", "type", cfg.Database.Type, "error", err)
		os.Exit(1)
	}
	defer db.Close(context.Background())
	logger.Info("Database connected", "type", cfg.Database.Type)

	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()

	hub := websocket.NewHub()
	go hub.Run()

	eng := engine.NewEngine(system, db, hub, metrics, cfg.Messaging.TypingDebounce)

	uploader, err := storage.NewUploader(cfg.Messaging.UploadDir, cfg.Messaging.MaxUploadBytes)
	if err != nil {
		logger.Error("Failed to prepare upload storage", "dir", cfg.Messaging.UploadDir, "error", err)
		os.Exit(1)
	}
	notifier := notify.NewNotifier(hub)

	server := handlers.NewServer(system, eng, metrics, hub, uploader, notifier)

	corsConfig := middleware.DefaultCORSConfig(cfg.AllowedOrigins)
	mux := http.NewServeMux()
	route := func(path string, handler http.HandlerFunc) {
		mux.HandleFunc(path, middleware.ApplyCORS(middleware.ApplyJWTMiddleware(handler, path), corsConfig))
	}

	route("/health", server.HandleHealth())
	route("/metrics", server.HandleMetrics())
	route("/token", server.HandleToken())
	route("/conversations", server.HandleConversations())
	route("/conversations/deeplink", server.HandleDeepLink())
	route("/session", server.HandleSession())
	route("/session/search", server.HandleSearch())
	route("/messages", server.HandleMessages())
	route("/reactions", server.HandleReactions())
	route("/presence", server.HandlePresence())
	route("/upload", server.HandleUpload())
	mux.HandleFunc("/ws", server.HandleWebSocket())
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploader.Dir()))))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("Starting server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown did not complete cleanly", "error", err)
	}
}

func openDatabase(cfg *config.Config) (database.DBAdapter, error) {
	switch cfg.Database.Type {
	case "postgres":
		db, err := database.NewPostgresDB(cfg.Database.URI)
		if err != nil {
			return nil, err
		}
		if err := db.InitializeTables(context.Background()); err != nil {
			return nil, err
		}
		return db, nil
	case "mongo":
		return database.NewMongoDB(cfg.Database.URI)
	case "memory":
		return database.NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
}
