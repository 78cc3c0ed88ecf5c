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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sandia/internal/apiclient"
	"sandia/internal/config"
	"sandia/internal/console"
	"sandia/internal/export"
	"sandia/internal/journal"
	"sandia/internal/metrics"
	"sandia/internal/schema"
	"sandia/internal/session"
)

func main() {
	configPath := flag.String("config", os.Getenv("SANDIA_CONFIG_PATH"), "path to config.yaml")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] <command>\n%s\n", os.Args[0], console.Usage)
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	driver := console.NewSurveyDriver(os.Stdout)

	client := apiclient.NewClient(cfg.API.BaseURL, nil)
	client.UseTimeout(cfg.Timeout())
	client.UseRateLimit(cfg.API.RatePerSecond, cfg.API.Burst)
	client.UseLogger(logger)
	if cfg.GlobalAlertsEnabled() {
		client.UseNotifier(console.NewAlertNotifier(ctx, driver))
	}

	store, closeStore, err := newSessionStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session store")
	}
	defer closeStore()

	sessions := session.NewManager(store, client, logger)
	client.UseCredentials(sessions)
	if _, err := sessions.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not restore session")
	}

	catalog := schema.Default()
	app := &console.App{
		Catalog:   catalog,
		Client:    client,
		Sessions:  sessions,
		ExportDir: cfg.Export.Dir,
		Driver:    driver,
		Out:       os.Stdout,
		Logger:    logger,
	}

	var source export.JournalSource
	if cfg.Journal.Enabled {
		db, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open journal error")
		}
		defer db.Close()
		app.Journal = db
		source = db
	}
	app.Exporter = export.NewService(catalog, export.ClientLister{Client: client}, source, sessions, logger)

	if err := app.Run(ctx, flag.Args()); err != nil {
		if errors.Is(err, console.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Log.Console {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func newSessionStore(cfg *config.Config) (session.Store, func(), error) {
	switch cfg.Session.Backend {
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Address,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		return session.NewRedisStore(rdb, cfg.Session.Redis.KeyPrefix), func() { _ = rdb.Close() }, nil
	case "file":
		return session.NewFileStore(cfg.Session.Path), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
