package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"medivault/internal/config"
	"medivault/internal/devserver"
	"medivault/internal/ratelimit"
	"medivault/internal/util"
	"medivault/pkg/ai"
	"medivault/pkg/storage"
)

func main() {
	configPath := flag.String("config", config.DevServerConfigPath, "path to the devserver config file")
	flag.Parse()

	cfg, err := config.LoadDevServer(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer closeStore()

	files, err := openFiles(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init file store: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "medivault:devserver:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
		defer limiter.Close()
	}

	generator, err := ai.NewGenerator(cfg.LLMProvider, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, util.NewHTTPClient(2*time.Minute))
	if err != nil {
		log.Fatalf("failed to init llm: %v", err)
	}

	tokens, err := devserver.NewTokenIssuer(cfg.JWTSecret, tokenTTL)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	httpServer, err := devserver.New(devserver.Config{
		Store:             store,
		Files:             files,
		Tokens:            tokens,
		Answerer:          devserver.NewAnswerer(generator),
		LoginLimiter:      limiter,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		CORSOrigins:       cfg.CORSOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr, "llm_provider", cfg.LLMProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func openStore(cfg config.DevServerConfig) (devserver.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Info("using in-memory store")
		return devserver.NewMemoryStore(), func() {}, nil
	}
	store, err := devserver.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Warn("close store failed", "err", err)
		}
	}, nil
}

func openFiles(ctx context.Context, cfg config.DevServerConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		return storage.NewFileStore(filepath.Join(cfg.DataDir, "uploads"))
	}
	return storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		Prefix:    "uploads",
	})
}
