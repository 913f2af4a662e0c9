// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse/gatehouse/internal/observability"
)

// lifecycleServer is the start/monitor/stop contract shared by the web
// and observability servers.
type lifecycleServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.NewPool
	PoolFactory func(ctx context.Context, url string) (*pgxpool.Pool, error)

	// WebServerFactory creates the application server.
	// Default: web.NewServer
	WebServerFactory func(addr string, handler http.Handler, logger *slog.Logger) lifecycleServer

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) obsServer
}

// obsServer extends lifecycleServer with access to the metric set.
type obsServer interface {
	lifecycleServer
	Metrics() *observability.Metrics
}

// monitorServerErrors watches a server's error channel and cancels the
// context on failure so the whole process shuts down together.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
