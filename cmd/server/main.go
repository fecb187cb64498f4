package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"grave.box/config"
	"grave.box/internal/api"
	"grave.box/internal/blob"
	"grave.box/internal/bot"
	"grave.box/internal/ingest"
	"grave.box/internal/logging"
	"grave.box/internal/reaper"
	"grave.box/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recordsBackend, entitlementsBackend, closeBackend := initSnapshotters(cfg, logger)
	defer closeBackend()

	records := store.NewRecordStore(recordsBackend, logger)
	if err := records.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("starting with empty record store")
	}
	entitlements := store.NewEntitlementStore(entitlementsBackend, logger)
	if err := entitlements.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("starting with empty entitlement store")
	}

	policy := ingest.Policy{
		Views:     cfg.Records.Views,
		TTL:       cfg.Records.TTL,
		SizeLimit: cfg.Records.FreeSizeLimit,
	}
	adapter := ingest.New(records, entitlements, initUploader(cfg, logger), policy, logger)
	b := bot.New(records, entitlements, adapter, bot.Options{
		OperatorID: cfg.Bot.OperatorID,
		SizeLimit:  policy.SizeLimit,
		TTL:        policy.TTL,
	}, logger)

	r := reaper.New(records, cfg.Records.ReapInterval, logger)
	r.Start(ctx)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.SetupRouter(b, cfg, logger),
		ReadTimeout:  cfg.Server.UploadTimeout,
		WriteTimeout: cfg.Server.UploadTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("store", cfg.Store.Type).
			Bool("blob", cfg.Blob.Enabled()).
			Int("records", records.Len()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	r.Stop()

	if err := records.Persist(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final record snapshot failed")
	}
	if err := entitlements.Persist(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final entitlement snapshot failed")
	}
}

func initSnapshotters(cfg *config.Config, logger zerolog.Logger) (records, entitlements store.Snapshotter, closeFn func()) {
	switch cfg.Store.Type {
	case "redis":
		client, err := store.NewRedisClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		closeFn = func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing redis client")
			}
		}
		return store.NewRedisSnapshotter(client, cfg.Store.Redis.RecordsKey),
			store.NewRedisSnapshotter(client, cfg.Store.Redis.EntitlementsKey),
			closeFn
	default:
		return store.NewFileSnapshotter(cfg.Store.RecordsPath),
			store.NewFileSnapshotter(cfg.Store.EntitlementsPath),
			func() {}
	}
}

func initUploader(cfg *config.Config, logger zerolog.Logger) blob.Uploader {
	if !cfg.Blob.Enabled() {
		logger.Warn().Msg("blob storage not configured; file uploads are disabled")
		return blob.Disabled{}
	}

	u, err := blob.NewMinioUploader(blob.Options{
		Endpoint:   cfg.Blob.Endpoint,
		AccessKey:  cfg.Blob.AccessKey,
		SecretKey:  cfg.Blob.SecretKey,
		Bucket:     cfg.Blob.Bucket,
		UseSSL:     cfg.Blob.UseSSL,
		LinkExpiry: cfg.Blob.LinkExpiry,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("blob storage setup failed")
	}
	return u
}
