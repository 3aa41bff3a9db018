package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/rpg/internal/config"
	"github.com/zhouzirui/z-tavern/rpg/internal/handler"
	"github.com/zhouzirui/z-tavern/rpg/internal/logger"
	"github.com/zhouzirui/z-tavern/rpg/internal/redis"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
	"github.com/zhouzirui/z-tavern/rpg/internal/service/ai"
	"github.com/zhouzirui/z-tavern/rpg/internal/service/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	zl.Info("storage ready", zap.String("driver", cfg.Storage.Driver))

	// Streams may run for minutes; the request context bounds them instead of
	// a client timeout.
	var aiSvc *ai.Service
	upstream, err := ai.NewUpstream(ctx, cfg.AI, &http.Client{})
	switch {
	case err == nil:
		aiSvc = ai.NewService(upstream, zl)
		zl.Info("ai upstream ready", zap.String("provider", cfg.AI.Provider))
	case errors.Is(err, ai.ErrNotConfigured):
		aiSvc = ai.NewService(nil, zl)
		zl.Warn("ai credentials not configured, completions disabled", zap.String("provider", cfg.AI.Provider))
	default:
		return fmt.Errorf("init ai upstream: %w", err)
	}

	chatCfg := chat.Config{
		Store:     store,
		Completer: aiSvc,
		Machine:   rpg.NewMachine(nil),
		Logger:    zl,
		SafeMode:  cfg.Chat.SafeModeDefault,
	}
	if cfg.Redis.Addr != "" {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		chatCfg.Locker = redis.NewGuard(client, cfg.Chat.LockTTL)
		zl.Info("distributed send guard enabled", zap.String("addr", cfg.Redis.Addr))
	}

	router := handler.NewRouter(handler.Deps{
		Store:   store,
		Chat:    chat.NewService(chatCfg),
		AI:      aiSvc,
		Logger:  zl,
		Metrics: true,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	zl.Info("tavern backend listening", zap.String("addr", srv.Addr))
	return runServer(ctx, srv, cfg.Server.ShutdownTimeout)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Driver == "memory" {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.OpenSQLStore(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

func runServer(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
