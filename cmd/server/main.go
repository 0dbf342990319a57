// DIAL resource server
//
// Fronts blob storage (S3 or local filesystem) with a Redis write-back
// cache. Reads and writes of small JSON resources are absorbed by the
// cache and reconciled to durable storage by a background scheduler.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vwake01/ai-dial-core/internal/api"
	"github.com/vwake01/ai-dial-core/internal/auth"
	"github.com/vwake01/ai-dial-core/internal/config"
	"github.com/vwake01/ai-dial-core/internal/lock"
	"github.com/vwake01/ai-dial-core/internal/logging"
	"github.com/vwake01/ai-dial-core/internal/metrics"
	"github.com/vwake01/ai-dial-core/internal/resource"
	"github.com/vwake01/ai-dial-core/internal/storage"
	"github.com/vwake01/ai-dial-core/internal/storage/local"
	s3backend "github.com/vwake01/ai-dial-core/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("resource server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis: shared cache, sync queue and distributed locks
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logging.Fatal("redis connection failed", zap.Error(err))
	}
	pingCancel()

	// Blob storage backend
	blob, err := newBlobStore(ctx, cfg)
	if err != nil {
		logging.Fatal("storage backend init failed", zap.Error(err))
	}
	defer blob.Close()

	// Distributed per-key locks
	locks := lock.New(rdb, time.Minute, 10*time.Millisecond)

	// Resource service with background sync scheduler
	resources, err := resource.New(rdb, blob, locks, resource.Config{
		MaxSize:            cfg.ResourceMaxSize,
		SyncPeriod:         cfg.ResourceSyncPeriod,
		SyncDelay:          cfg.ResourceSyncDelay,
		SyncBatch:          cfg.ResourceSyncBatch,
		CacheExpiration:    cfg.ResourceCacheExpiration,
		CompressionMinSize: cfg.ResourceCompressionMinSize,
	})
	if err != nil {
		logging.Fatal("resource service init failed", zap.Error(err))
	}
	defer resources.Close()

	authHandler := auth.New(cfg.JWTSecret, cfg.APIKeyHash)

	server := api.NewServer(resources, authHandler, cfg.ResourceMaxSize)

	// Metrics listener
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logging.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logging.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown failed", zap.Error(err))
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case "local":
		return local.New(local.Config{RootPath: cfg.LocalStoragePath})
	default:
		return s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	}
}
