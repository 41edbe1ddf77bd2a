package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chefai/internal/api"
	"chefai/internal/config"
	"chefai/internal/kitchen"
	"chefai/internal/logger"
	"chefai/internal/platform/gemini"
	"chefai/internal/platform/localllm"
	"chefai/internal/tracing"
	"chefai/internal/web"
)

// closers runs cleanup functions in reverse order.
type closers []func() error

func (c closers) close(log *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("cleanup failed", zap.Error(err))
		}
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		Service:     cfg.App.Name,
		Environment: cfg.App.Environment,
		Development: cfg.App.Environment == "development",
	})
}

// generators is the configured model provider.
type generators struct {
	recipes kitchen.RecipeGenerator
	images  kitchen.ImageGenerator
	close   func() error
}

func newGenerators(ctx context.Context, cfg config.AIConfig, log *zap.Logger) (*generators, error) {
	switch cfg.Provider {
	case "local":
		c := localllm.NewClient(cfg.LocalURL, cfg.LocalModel, cfg.RequestTimeout, log)
		return &generators{recipes: c, images: c, close: func() error { return nil }}, nil
	default:
		c, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:        cfg.APIKey,
			TextModel:     cfg.TextModel,
			ImageModel:    cfg.ImageModel,
			ImageMaxWidth: cfg.ImageMaxWidth,
			Timeout:       cfg.RequestTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("error creating gemini client: %w", err)
		}
		return &generators{recipes: c, images: c, close: c.Close}, nil
	}
}

func newStore(cfg config.StoreConfig) (kitchen.Store, func() error, error) {
	if cfg.Driver == "postgres" {
		s, err := kitchen.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating postgres store: %w", err)
		}
		return s, s.Close, nil
	}
	return kitchen.NewMemoryStore(), func() error { return nil }, nil
}

func newAssetBackend(ctx context.Context, cfg config.AssetsConfig) (web.Backend, func() error, error) {
	if cfg.Backend == "redis" {
		b, err := web.NewRedisBackend(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	return web.NewMemoryBackend(), func() error { return nil }, nil
}

// newRouter installs and activates the shell assets and builds the HTTP
// router around svc.
func newRouter(ctx context.Context, cfg *config.Config, log *zap.Logger, svc api.Kitchen, backend web.Backend) (*gin.Engine, error) {
	cache := web.NewCache(cfg.Assets.CacheName, backend, log)
	if err := cache.Install(ctx, web.Shell(), web.ShellAssets); err != nil {
		return nil, err
	}
	if err := cache.Activate(ctx); err != nil {
		return nil, err
	}
	log.Info("asset cache active", zap.String("bucket", cache.Name()), zap.Int("assets", len(web.ShellAssets)))

	h := api.NewHandler(svc, log, cfg.AI.RequestTimeout)
	return api.NewRouter(h, log, api.RouterConfig{
		ServiceName:    cfg.App.Name,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		GenerateRate:   cfg.Server.GenerateRate,
		GenerateBurst:  cfg.Server.GenerateBurst,
		Assets:         cache.Handler(web.ShellServer()),
	}), nil
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var cleanup closers
	defer cleanup.close(log)

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Enabled:     cfg.Tracing.Enabled,
	})
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() error {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return shutdownTracing(tctx)
	})

	gens, err := newGenerators(ctx, cfg.AI, log)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, gens.close)

	store, closeStore, err := newStore(cfg.Store)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)

	backend, closeBackend, err := newAssetBackend(ctx, cfg.Assets)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeBackend)

	svc := kitchen.NewService(store, gens.recipes, gens.images, log)
	router, err := newRouter(ctx, cfg, log, svc, backend)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.AI.Provider),
			zap.String("store", cfg.Store.Driver),
			zap.String("assets", cfg.Assets.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
