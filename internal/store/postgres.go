// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package store manages the PostgreSQL connection pool and schema
// migrations.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	// connectAttempts bounds startup pings against a database that is
	// still coming up (e.g. a sidecar container).
	connectAttempts = 5

	pingTimeout = 5 * time.Second
)

// NewPool opens a pgx connection pool and verifies connectivity with a
// fibonacci-backoff ping. The pool is returned only after a ping
// succeeds, so callers can treat a non-nil pool as reachable at startup.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.In("store").Code("DB_CONFIG_INVALID").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.In("store").Code("DB_POOL_FAILED").Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectAttempts, retry.NewFibonacci(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.In("store").Code("DB_UNREACHABLE").
			With("attempts", connectAttempts+1).
			Wrap(err)
	}

	return pool, nil
}
