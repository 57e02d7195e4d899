// Package main provides the secchiware coordinator's entry point.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/secchiware/coordinator/internal/cache"
	"github.com/secchiware/coordinator/internal/config"
	"github.com/secchiware/coordinator/internal/coordinator"
	"github.com/secchiware/coordinator/internal/janitor"
	"github.com/secchiware/coordinator/internal/logging"
	"github.com/secchiware/coordinator/internal/metrics"
	"github.com/secchiware/coordinator/internal/nodeclient"
	"github.com/secchiware/coordinator/internal/repository"
	"github.com/secchiware/coordinator/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New("coordinatord", cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseDSN, cfg.MigrationsPath, cfg.DBMaxOpenConns, cfg.DBConnMaxIdleTime)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer db.Close()

	cacheStore, redisClient, err := cache.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer redisClient.Close()

	if err := os.MkdirAll(cfg.TestsPath, 0o755); err != nil {
		log.Fatalf("tests path: %v", err)
	}
	repo := repository.New(cfg.TestsPath, cacheStore, cfg.LockTimeout, cfg.ReadingTimeout, cfg.LockPollInterval)

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.New()
	}

	nodes := nodeclient.New([]byte(cfg.NodeSecret), cfg.NodeRPCTimeout, collector)

	deps := coordinator.NewDeps(db, cacheStore, repo, nodes, cfg, logger, collector)
	router := coordinator.NewRouter(deps)

	j := janitor.New(db, cacheStore, nodes, logger, cfg.LockTimeout, cfg.LockPollInterval)
	if err := j.Start(); err != nil {
		log.Fatalf("janitor: %v", err)
	}
	defer j.Stop()

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.WithContext(ctx).Infof("coordinator listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.WithContext(ctx).Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	notifyActiveNodes(shutdownCtx, deps, logger)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful server shutdown failed")
	}
}

// notifyActiveNodes best-effort signals every currently active node to
// shut down, then ends every active session in the store. Grounded on
// tasks.py's stop_active_environments, run at process exit instead of as
// a standalone CLI task.
func notifyActiveNodes(ctx context.Context, deps *coordinator.Deps, logger *logging.Logger) {
	active, err := deps.Store.ListActiveSessions(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to list active sessions at shutdown")
		return
	}

	for _, sess := range active {
		if _, err := deps.Nodes.DeleteRoot(ctx, sess.IP, sess.Port); err != nil {
			logger.WithContext(ctx).WithField("ip", sess.IP).WithField("port", sess.Port).
				WithError(err).Warn("node unreachable at shutdown")
		}
	}

	endTS := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	if _, err := deps.Store.EndAllActiveSessions(ctx, endTS); err != nil {
		logger.WithError(err).Warn("failed to end active sessions at shutdown")
	}

	if err := deps.Cache.Flush(ctx); err != nil {
		logger.WithError(err).Warn("failed to flush shared store at shutdown")
	}
}
