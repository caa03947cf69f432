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

	"github.com/erazemk/zaloga/internal/api"
	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/cache"
	"github.com/erazemk/zaloga/internal/config"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/ledger"
	"github.com/erazemk/zaloga/internal/logging"
	"github.com/erazemk/zaloga/internal/store"
	"github.com/erazemk/zaloga/internal/telemetry"
	"github.com/erazemk/zaloga/internal/transfer"
)

func main() {
	cfg := config.Load()

	fs := flag.NewFlagSet("zaloga", flag.ContinueOnError)
	fs.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "")
	fs.StringVar(&cfg.DatabaseURL, "d", cfg.DatabaseURL, "")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "")
	fs.StringVar(&cfg.AdminUser, "user", cfg.AdminUser, "")
	fs.StringVar(&cfg.AdminUser, "u", cfg.AdminUser, "")
	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "")
	fs.StringVar(&cfg.LogPath, "l", cfg.LogPath, "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: zaloga [flags]

Flags:
  -d, -db <dsn>           SQLite path or postgres:// DSN (default: zaloga.db)
  -a, -addr <host:port>   listen address (default: :8080)
  -u, -user <name>        admin username on first run (default: admin)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -h, -help               show this help and exit

Flags override the environment (DATABASE_URL, ADDR, ADMIN_USER, LOG_PATH).
Other settings: ENVIRONMENT, JWT_SECRET, TOKEN_TTL, LEDGER_MAX_RETRIES,
REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, CACHE_TTL, KAFKA_BROKERS, KAFKA_TOPIC,
OTEL_EXPORTER_OTLP_ENDPOINT.
`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log, syncLog, err := logging.New(cfg.Environment, cfg.LogPath)
	if err != nil {
		return err
	}
	defer func() { _ = syncLog() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("flushing traces", zap.Error(err))
		}
	}()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}
	log.Info("database ready", zap.String("dialect", database.Dialect().String()))

	if err := bootstrapAdmin(ctx, database, cfg.AdminUser, os.Stdout); err != nil {
		return err
	}

	secret, err := store.JWTSecret(ctx, database, cfg.JWTSecret)
	if err != nil {
		return err
	}

	stockCache := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if closer, ok := stockCache.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var publisher events.Publisher = events.LogPublisher{Log: log}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 0, log)
		kp.Start()
		defer kp.Close()
		publisher = kp
		log.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	l := ledger.New(database,
		ledger.WithMaxRetries(cfg.LedgerMaxRetries),
		ledger.WithLogger(log),
		ledger.WithCache(stockCache, cfg.CacheTTL),
		ledger.WithPublisher(publisher),
	)
	engine := transfer.NewEngine(l, publisher, log)

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewRouter(api.Deps{
			DB:     database,
			Ledger: l,
			Engine: engine,
			Tokens: auth.NewTokens(secret, cfg.TokenTTL),
			Log:    log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server started", zap.String("addr", cfg.Addr), zap.String("environment", cfg.Environment))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("server stopped, closing database")
	return nil
}
