package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/depot/internal/blob"
	"github.com/matzehuels/depot/internal/config"
	"github.com/matzehuels/depot/internal/ingest"
	"github.com/matzehuels/depot/internal/server"
	"github.com/matzehuels/depot/internal/store"
	"github.com/matzehuels/depot/pkg/cache"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the composer repository server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, loggerFromContext(cmd.Context()))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *charmlog.Logger) error {
	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	archives, err := blob.NewFileStore(cfg.Storage.ArchiveDir)
	if err != nil {
		return err
	}

	responseCache := openCache(ctx, cfg, logger)
	defer responseCache.Close()

	engine := ingest.New(st, archives,
		ingest.DefaultClientFactory(responseCache, cfg.Cache.TTLDuration()),
		ingest.WithLogger(logger),
	)
	srv := server.New(st, engine, archives, cfg.Server.BaseURL, cfg.Webhook.Secret, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "base_url", cfg.Server.BaseURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// openStore selects the store backend: MongoDB when configured, the
// in-memory store otherwise. The memory store is for local development
// only and loses everything on restart.
func openStore(ctx context.Context, cfg config.Config, logger *charmlog.Logger) (store.Store, func(), error) {
	if cfg.Storage.MongoURI == "" {
		logger.Warn("no mongo_uri configured, using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	ms, err := store.NewMongoStore(ctx, cfg.Storage.MongoURI, cfg.Storage.Database)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := ms.Close(closeCtx); err != nil {
			logger.Warn("mongo disconnect failed", "err", err)
		}
	}
	logger.Info("connected to store", "store", ms.String())
	return ms, cleanup, nil
}

// openCache selects the upstream response cache: Redis when configured,
// a file cache for single-instance setups, disabled otherwise.
func openCache(ctx context.Context, cfg config.Config, logger *charmlog.Logger) cache.Cache {
	if cfg.Cache.RedisAddr != "" {
		c, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, "depot:")
		if err != nil {
			logger.Warn("redis unavailable, upstream caching disabled", "err", err)
			return cache.NewNullCache()
		}
		logger.Info("upstream response caching enabled", "redis", cfg.Cache.RedisAddr)
		return c
	}
	if cfg.Cache.Dir != "" {
		c, err := cache.NewFileCache(cfg.Cache.Dir)
		if err != nil {
			logger.Warn("file cache unavailable, upstream caching disabled", "err", err)
			return cache.NewNullCache()
		}
		logger.Info("upstream response caching enabled", "dir", cfg.Cache.Dir)
		return c
	}
	return cache.NewNullCache()
}
