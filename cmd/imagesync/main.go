// Command imagesync receives storage webhooks and keeps the portfolio image
// arrays in step with the bucket. It runs next to the API or on its own.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"colorcraft/api/internal/config"
	"colorcraft/api/internal/imagesync"
	"colorcraft/api/internal/lease"
	"colorcraft/api/internal/logging"
	"colorcraft/api/internal/metrics"
	"colorcraft/api/internal/session"
	"colorcraft/api/internal/storage"
	"colorcraft/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Prefix: "imagesync"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", "err", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", "err", err)
	}
	dataStore := store.NewPostgresStore(db)

	objects, err := storage.New(storage.Config{
		Endpoint:      cfg.StorageEndpoint,
		AccessKey:     cfg.StorageAccessKey,
		SecretKey:     cfg.StorageSecretKey,
		Region:        cfg.StorageRegion,
		UseSSL:        cfg.StorageUseSSL,
		Bucket:        cfg.StorageBucket,
		PublicBaseURL: cfg.StoragePublicBaseURL,
	})
	if err != nil {
		logger.Fatal("storage client failed", "err", err)
	}

	appMetrics := metrics.New()
	syncMetrics := imagesync.NewMetrics(appMetrics.Registry())
	opts := imagesync.Options{Bucket: objects.Bucket(), URLs: objects.URLMapper, Metrics: syncMetrics}
	var deduper imagesync.Deduper = imagesync.NewMemoryDeduper(cfg.WebhookDedupeTTL)

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err = session.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", "err", err)
		}
		defer redisClient.Close()
		opts.Locker = lease.NewRedisLocker(redisClient, lease.Options{TTL: cfg.LeaseTTL})
		deduper = imagesync.NewRedisDeduper(redisClient, cfg.WebhookDedupeTTL)
	} else {
		logger.Warn("redis not configured; leases and de-duplication are local to this process")
	}

	verifier, err := imagesync.NewVerifier(imagesync.VerifyConfig{
		Strategy: cfg.WebhookVerify,
		Secret:   cfg.WebhookSecret,
		Header:   cfg.WebhookSignatureHeader,
	})
	if err != nil {
		logger.Fatal("webhook verifier", "err", err)
	}
	handler := imagesync.NewHandler(imagesync.NewSyncer(dataStore, objects, opts), verifier, deduper, syncMetrics)

	r := chi.NewRouter()
	r.Use(appMetrics.Middleware)
	r.Method(http.MethodPost, "/webhooks/storage", handler)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
	})
	r.Method(http.MethodGet, "/metrics", appMetrics.Handler())

	server := &http.Server{
		Addr:              cfg.ImageSyncAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", cfg.ImageSyncAddr, "bucket", objects.Bucket(), "verify", cfg.WebhookVerify)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}
