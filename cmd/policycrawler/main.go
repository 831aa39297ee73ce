// Package main hosts the policy crawler service entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/insurdocs/policy-crawler/internal/api"
	"github.com/insurdocs/policy-crawler/internal/cache"
	"github.com/insurdocs/policy-crawler/internal/config"
	"github.com/insurdocs/policy-crawler/internal/crawler"
	"github.com/insurdocs/policy-crawler/internal/logging"
	"github.com/insurdocs/policy-crawler/internal/metrics"
	memorystorage "github.com/insurdocs/policy-crawler/internal/storage/memory"
	pgstorage "github.com/insurdocs/policy-crawler/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	var (
		sessions crawler.SessionStore
		docs     crawler.DocumentStore
	)
	if cfg.DB.DSN != "" {
		pool, perr := pgstorage.NewPool(ctx, pgstorage.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if perr != nil {
			logger.Fatal("postgres init failed", zap.Error(perr))
		}
		defer pool.Close()
		sessions, _ = pgstorage.NewSessionStore(pool)
		docs, _ = pgstorage.NewDocumentStore(pool)
		logger.Info("using postgres storage")
	} else {
		store := memorystorage.NewStore()
		sessions, docs = store, store
		logger.Warn("no database DSN configured; using in-memory storage")
	}

	settings := cfg.CrawlerSettings()
	clock := crawler.SystemClock{}
	registry := crawler.NewRegistry(settings.MaxConcurrent, clock, logger.Named("registry"))
	logBuffer := crawler.NewLogBuffer(0, clock)
	views := cache.New(time.Duration(cfg.Cache.TTLSeconds) * time.Second)
	orchestrator := crawler.NewOrchestrator(
		sessions, docs, registry, logBuffer, views,
		settings, clock, logger.Named("orchestrator"),
	)

	apiServer := api.NewServer(
		sessions, registry, logBuffer, orchestrator, views,
		settings, clock, logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
