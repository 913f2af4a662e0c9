// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/access"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/memory"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/internal/web"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication server",
		Long: `Start the HTTP server that serves the signup and login forms, the
authenticated pages, and (on a separate listener) metrics and health probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	// Flag names mirror the config keys so the flag layer can be merged
	// over the file layer directly.
	cmd.Flags().String("server.addr", ":8080", "HTTP listen address")
	cmd.Flags().String("observability.addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("session.store", config.SessionStoreMemory, "session store (memory or postgres)")
	cmd.Flags().Duration("session.ttl", 24*time.Hour, "session lifetime")
	cmd.Flags().String("log.format", "json", "log format (json or text)")
	cmd.Flags().String("log.level", "info", "log level (debug, info, warn, error)")

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.PoolFactory == nil {
		deps.PoolFactory = func(ctx context.Context, url string) (*pgxpool.Pool, error) {
			return store.NewPool(ctx, url)
		}
	}
	if deps.WebServerFactory == nil {
		deps.WebServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) lifecycleServer {
			return web.NewServer(addr, handler, logger)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) obsServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}

	cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("gatehouse", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	logger := slog.Default()

	logger.Info("starting server", "config", cfg.Redacted())

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database.url or the DATABASE_URL environment variable is required")
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	users := authpg.NewUserRepository(pool)

	var sessions auth.SessionRepository
	if cfg.Session.Store == config.SessionStorePostgres {
		sessions = authpg.NewSessionRepository(pool)
	} else {
		sessions = memory.NewSessionRepository()
	}

	var hasher auth.PasswordHasher
	if cfg.Auth.Hasher == config.HasherBcrypt {
		cost := cfg.Auth.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		hasher = auth.NewBcryptHasher(cost)
	} else {
		hasher = auth.NewArgon2idHasher()
	}

	svc, err := auth.NewServiceWithLogger(users, sessions, hasher, cfg.Session.TTL, logger)
	if err != nil {
		return err
	}

	handler, err := web.NewHandler(web.HandlerConfig{
		Auth:         svc,
		Policy:       access.MustPolicy(access.DefaultRules()),
		Logger:       logger,
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Observability server first so the web handler can record metrics.
	var obs obsServer
	if cfg.Observability.Addr != "" {
		obs = deps.ObservabilityServerFactory(cfg.Observability.Addr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx) == nil
		})
		obsErrCh, err := obs.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")

		// Rebuild the handler with metrics wired in.
		handler, err = web.NewHandler(web.HandlerConfig{
			Auth:         svc,
			Policy:       access.MustPolicy(access.DefaultRules()),
			Metrics:      obs.Metrics(),
			Logger:       logger,
			CookieName:   cfg.Session.CookieName,
			CookieSecure: cfg.Session.CookieSecure,
		})
		if err != nil {
			return err
		}
	}

	webServer := deps.WebServerFactory(cfg.Server.Addr, handler, logger)
	webErrCh, err := webServer.Start()
	if err != nil {
		if obs != nil {
			stopServer(obs, cfg.Server.ShutdownTimeout, logger, "observability")
		}
		return oops.Code("WEB_START_FAILED").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, webErrCh, "web")

	// Postgres sessions accumulate expired rows; sweep them on a timer.
	var janitorWG sync.WaitGroup
	if cfg.Session.Store == config.SessionStorePostgres {
		janitorWG.Add(1)
		go func() {
			defer janitorWG.Done()
			runSessionJanitor(ctx, sessions, cfg.Session.CleanupInterval, logger)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Server started on " + webServer.Addr())
	logger.Info("server ready", "addr", webServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	cancel()
	janitorWG.Wait()

	stopServer(webServer, cfg.Server.ShutdownTimeout, logger, "web")
	if obs != nil {
		stopServer(obs, cfg.Server.ShutdownTimeout, logger, "observability")
	}

	logger.Info("shutdown complete")
	return nil
}

func stopServer(s lifecycleServer, timeout time.Duration, logger *slog.Logger, name string) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := s.Stop(shutdownCtx); err != nil {
		errutil.LogError(logger, "error stopping "+name+" server", err)
	}
}

// runSessionJanitor deletes expired sessions every interval until the
// context ends.
func runSessionJanitor(ctx context.Context, sessions auth.SessionRepository, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				errutil.LogError(logger, "session cleanup failed", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}
