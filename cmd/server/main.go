package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/worldbrain/capi-gateway/internal/attribution"
	"github.com/worldbrain/capi-gateway/internal/capi"
	"github.com/worldbrain/capi-gateway/internal/config"
	"github.com/worldbrain/capi-gateway/internal/diagnostics"
	"github.com/worldbrain/capi-gateway/internal/pkg/dedupe"
	"github.com/worldbrain/capi-gateway/internal/pkg/logger"
	"github.com/worldbrain/capi-gateway/internal/pkg/telemetry"
	"github.com/worldbrain/capi-gateway/internal/site"
	"github.com/worldbrain/capi-gateway/internal/tracking"
)

func fatal(msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(*cfg.Logging.RedactPII)
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		fatal("failed to set up tracing", err)
	}

	redisClient := connectRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	recorder := diagnostics.Multi{diagnostics.LogRecorder{}}
	if db := connectDatabase(ctx, cfg.Database); db != nil {
		defer db.Close()
		pg := diagnostics.NewPostgresRecorder(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Warn("diagnostics schema unavailable, delivery outcomes go to the log only", "err", err)
		} else {
			recorder = append(recorder, pg)
		}
	}

	normalizer, err := capi.NewNormalizer(capi.DefaultTaxonomy(),
		attribution.PIINormalizer{DefaultCountryCode: cfg.Attribution.DefaultCountryCode})
	if err != nil {
		fatal("invalid field taxonomy", err)
	}
	client := capi.NewClient(capi.Config{
		BaseURL:       cfg.Meta.BaseURL,
		APIVersion:    cfg.Meta.APIVersion,
		PixelID:       cfg.Meta.PixelID,
		AccessToken:   cfg.Meta.AccessToken,
		TestEventCode: cfg.Meta.TestEventCode,
		Timeout:       cfg.Meta.Timeout(),
	})

	opts := []capi.Option{capi.WithRecorder(recorder), capi.WithDispatchTimeout(cfg.Meta.Timeout())}
	if cfg.Dedupe.Enabled {
		opts = append(opts, capi.WithDeduper(dedupe.New(redisClient, cfg.Dedupe.TTL())))
	}
	forwarder := capi.NewForwarder(client, normalizer, opts...)

	handler := tracking.NewHandler(forwarder, attribution.NewParamBuilder(cfg.Attribution.Domains))
	siteHandler := site.New(os.DirFS(cfg.Site.Root), cfg.Site.Redirects, handler.PageViews)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      tracking.SetupRoutes(handler, siteHandler.Routes(), cfg.Server.AllowedOrigins),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Meta.Timeout() + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("capi gateway listening", "addr", srv.Addr, "pixel_id", cfg.Meta.PixelID,
			"test_mode", cfg.Meta.TestEventCode != "", "dedupe", cfg.Dedupe.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("listen failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down capi gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	// Page views dispatched by the last requests are still in flight.
	if err := forwarder.Close(shutdownCtx); err != nil {
		logger.Warn("dropped in-flight events on shutdown", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown error", "err", err)
	}
	logger.Info("capi gateway stopped")
}

// connectRedis returns nil when Redis is not configured or unreachable;
// deduplication then falls back to process memory.
func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.Addr)
	if err != nil {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis connection failed, using in-memory dedupe", "addr", cfg.Addr, "err", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected", "addr", opts.Addr)
	return client
}

// connectDatabase returns nil when Postgres is not configured or
// unreachable; diagnostics then only go to the log.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) *sql.DB {
	if cfg.URL == "" {
		return nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		logger.Warn("postgres open failed", "err", err)
		return nil
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Warn("postgres connection failed, diagnostics go to the log only", "err", err)
		db.Close()
		return nil
	}
	logger.Info("postgres connected")
	return db
}
