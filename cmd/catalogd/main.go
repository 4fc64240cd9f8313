package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/catalogkit/catalogd/pkg/api"
	"github.com/catalogkit/catalogd/pkg/auth"
	"github.com/catalogkit/catalogd/pkg/config"
	"github.com/catalogkit/catalogd/pkg/janitor"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
	"github.com/catalogkit/catalogd/pkg/sso"
	"github.com/catalogkit/catalogd/pkg/store"
	"github.com/catalogkit/catalogd/pkg/uploads"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "catalogd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := store.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	files, err := newFileStore(ctx, cfg)
	if err != nil {
		return err
	}

	catalogStore, err := store.New(db, cfg.Database.Driver, files, logger, metrics)
	if err != nil {
		return err
	}

	sessionStore, err := newSessionStore(cfg, db)
	if err != nil {
		return err
	}
	sessions := session.NewManager(sessionStore, cfg.Sessions.TTL, cfg.Auth.SecureCookies)

	verifier, err := auth.NewStaticVerifier(cfg.Auth.AdminUsername, cfg.Auth.AdminPasswordHash, cfg.Auth.AdminPassword)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(verifier)

	var federator *sso.Federator
	if cfg.Provider.ClientID != "" {
		federator, err = sso.NewFederator(ctx, cfg.Provider, sessions, catalogStore, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to configure identity provider: %w", err)
		}
	} else {
		logger.Warn("no identity provider configured, federated login disabled")
	}

	server := api.NewServer(api.Options{
		Store:         catalogStore,
		Sessions:      sessions,
		Authenticator: authenticator,
		Federator:     federator,
		Files:         files,
		Logger:        logger,
		Metrics:       metrics,
		TraceEnabled:  cfg.Observability.OTelEnabled,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(otelProviders.Shutdown)

	if cfg.Janitor.Enabled {
		j := janitor.New(janitor.Config{
			SessionPurgeSchedule: cfg.Janitor.SessionPurgeSchedule,
			OrphanSweepSchedule:  cfg.Janitor.OrphanSweepSchedule,
			OrphanGrace:          cfg.Janitor.OrphanGrace,
		}, sessions, catalogStore, files, logger, metrics)
		if err := j.Start(); err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc(j.Stop)
	}

	go func() {
		logger.Infof("catalogd listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server stopped unexpectedly")
		}
	}()

	return shutdown.WaitForShutdown()
}

func newFileStore(ctx context.Context, cfg *config.Config) (uploads.FileStore, error) {
	switch cfg.Uploads.Backend {
	case "s3":
		s3Store, err := uploads.NewS3Store(ctx, cfg.Uploads.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 upload store: %w", err)
		}
		return s3Store, nil
	default:
		fsStore, err := uploads.NewFileSystemStore(cfg.Uploads.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upload store: %w", err)
		}
		return fsStore, nil
	}
}

func newSessionStore(cfg *config.Config, db *sql.DB) (session.Store, error) {
	if cfg.Sessions.Backend == "redis" {
		redisStore, err := session.NewRedisStore(cfg.Sessions.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisStore, nil
	}
	return session.NewSQLStore(db, cfg.Database.Driver), nil
}
