package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"colorcraft/api/internal/app"
	"colorcraft/api/internal/config"
	"colorcraft/api/internal/email"
	"colorcraft/api/internal/export"
	"colorcraft/api/internal/imagesync"
	"colorcraft/api/internal/lease"
	"colorcraft/api/internal/logging"
	"colorcraft/api/internal/metrics"
	"colorcraft/api/internal/realtime"
	"colorcraft/api/internal/search"
	"colorcraft/api/internal/session"
	"colorcraft/api/internal/site"
	"colorcraft/api/internal/storage"
	"colorcraft/api/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", "err", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal("migrations failed", "err", err)
	}
	dataStore := store.NewPostgresStore(db)
	appMetrics := metrics.New()

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err = session.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("redis connection failed", "err", err)
		}
		defer redisClient.Close()
		log.Info("redis connected; sessions, leases and chat fan-out are shared")
	} else {
		log.Info("redis not configured; using postgres sessions and in-process chat")
	}

	deps := app.Dependencies{
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		Exporter: export.NewService(dataStore, cfg.PublicSiteURL),
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
	}
	deps.Search = search.NewService(meili, search.NewPgFTS(db))
	go deps.Search.ReindexAllFromPG(ctx)

	router := realtime.NewRouter()
	defer router.Close()
	if redisClient != nil {
		deps.Sessions = session.NewRedisStore(redisClient, dataStore)
		deps.Publisher = realtime.NewRedisPublisher(redisClient)
		go func() {
			if err := realtime.NewBridge(redisClient, router).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("realtime bridge stopped", "err", err)
			}
		}()
	} else {
		deps.Publisher = realtime.NewLocalPublisher(router)
	}

	var webhook http.Handler
	if strings.TrimSpace(cfg.StorageEndpoint) != "" {
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
			log.Fatal("storage client failed", "err", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Warn("storage bucket check failed", "bucket", cfg.StorageBucket, "err", err)
		}

		syncMetrics := imagesync.NewMetrics(appMetrics.Registry())
		opts := imagesync.Options{Bucket: objects.Bucket(), URLs: objects.URLMapper, Metrics: syncMetrics}
		var deduper imagesync.Deduper = imagesync.NewMemoryDeduper(cfg.WebhookDedupeTTL)
		if redisClient != nil {
			opts.Locker = lease.NewRedisLocker(redisClient, lease.Options{TTL: cfg.LeaseTTL})
			deduper = imagesync.NewRedisDeduper(redisClient, cfg.WebhookDedupeTTL)
		}
		syncer := imagesync.NewSyncer(dataStore, objects, opts)

		verifier, err := imagesync.NewVerifier(imagesync.VerifyConfig{
			Strategy: cfg.WebhookVerify,
			Secret:   cfg.WebhookSecret,
			Header:   cfg.WebhookSignatureHeader,
		})
		if err != nil {
			log.Fatal("webhook verifier", "err", err)
		}
		webhook = imagesync.NewHandler(syncer, verifier, deduper, syncMetrics)
		deps.Objects = objects
		deps.Syncer = syncer
	} else {
		log.Warn("object storage not configured; image uploads are disabled")
	}

	service := app.New(cfg, dataStore, deps)
	if err := service.Bootstrap(ctx); err != nil {
		log.Warn("bootstrap failed; will retry on next restart", "err", err)
	}

	pages, err := site.New(dataStore, site.Options{BaseURL: cfg.PublicSiteURL})
	if err != nil {
		log.Fatal("site templates failed", "err", err)
	}

	var limitClient redis.UniversalClient
	if redisClient != nil {
		limitClient = redisClient
	}
	publicLimit, err := app.NewPublicRateLimit(cfg.PublicRateLimitPerMinute, limitClient)
	if err != nil {
		log.Fatal("rate limiter failed", "err", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, app.ServerOptions{
		Webhook:     webhook,
		Realtime:    router,
		Site:        pages,
		Metrics:     appMetrics,
		PublicLimit: publicLimit,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("Color & Craft API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
}
