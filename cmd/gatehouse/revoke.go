// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"errors"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/store"
)

// revokeRepos holds the repositories the revoke command operates on.
type revokeRepos struct {
	users    auth.UserRepository
	sessions auth.SessionRepository
	close    func()
}

// revokeReposFactory opens the repositories for a database URL. Swapped
// in tests.
var revokeReposFactory = func(ctx context.Context, databaseURL string) (*revokeRepos, error) {
	pool, err := store.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &revokeRepos{
		users:    authpg.NewUserRepository(pool),
		sessions: authpg.NewSessionRepository(pool),
		close:    pool.Close,
	}, nil
}

// NewRevokeSessionsCmd creates the revoke-sessions subcommand.
func NewRevokeSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-sessions <email>",
		Short: "Invalidate every session belonging to a user",
		Long: `Delete all server-side sessions for the user with the given email,
forcing every browser holding one to log in again. Only reaches
sessions in the PostgreSQL store; memory-store sessions live inside
the server process.`,
		Args: cobra.ExactArgs(1),
		RunE: runRevokeSessions,
	}
}

func runRevokeSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigFile(), nil)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database.url or the DATABASE_URL environment variable is required")
	}

	ctx := cmd.Context()
	repos, err := revokeReposFactory(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer repos.close()

	user, err := repos.users.GetByEmail(ctx, args[0])
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return oops.Code("USER_NOT_FOUND").
				Errorf("no user with email %q", args[0])
		}
		return err
	}

	if err := repos.sessions.DeleteByUser(ctx, user.ID); err != nil {
		return err
	}

	cmd.Printf("Revoked all sessions for %s\n", user.Email)
	return nil
}
