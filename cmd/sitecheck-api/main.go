package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitecheck/internal/api"
	"sitecheck/internal/auth"
	"sitecheck/internal/config"
	"sitecheck/internal/db"
	"sitecheck/internal/pubsub"
	"sitecheck/internal/schema"
	"sitecheck/internal/service"
	"sitecheck/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const usage = `usage: sitecheck-api [serve]
       sitecheck-api token <inspector-id> [ttl]

The config file is read from $SITECHECK_CONFIG, else ./sitecheck.yaml.`

func main() {
	cfg, err := config.Load(os.Getenv("SITECHECK_CONFIG"), nil)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "token":
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			log.Fatalf("Token failed: %v", err)
		}
	case "serve":
		logger, err := config.NewLogger(cfg.Log)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logger.Sync()

		if err := serve(cfg, logger); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

// issueToken prints a bearer token the fill CLI can use against this server
func issueToken(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("inspector id required\n%s", usage)
	}
	ttl := 24 * time.Hour
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		ttl = d
	}

	token, err := auth.NewJWTConfig(cfg.Server.JWTSecret).IssueToken(args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	dbPool, err := db.NewPool(cfg.Server.SeedFile, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbPool.Close()

	schemaComp := schema.NewCompilerWithCache(64)
	instanceSvc := service.NewInstanceService(dbPool.Queries, schemaComp, nil, logger)

	// Redis is optional; without it no events are published
	if cfg.Server.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Server.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		bus := pubsub.New(rdb, logger)
		instanceSvc = service.NewInstanceService(dbPool.Queries, schemaComp, bus, logger)
		instanceSvc.SetEventLog(bus)
	}

	files, err := storage.NewLocalStorage(cfg.Server.StorageDir, cfg.Server.StorageBaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	fileSvc := service.NewFileService(dbPool.Queries, files, storage.ImagePolicy(cfg.Photos.MaxFileBytes), logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Mount("/v1", api.Routes(api.Dependencies{
		Instances:      instanceSvc,
		Files:          fileSvc,
		JWT:            auth.NewJWTConfig(cfg.Server.JWTSecret),
		Log:            logger,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}
