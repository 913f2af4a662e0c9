// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// resolveConfigFile returns the --config value, falling back to the
// XDG config file when the flag was not given.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	return xdg.DefaultConfigFile()
}

// NewRootCmd creates the root command for the Gatehouse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Gatehouse - form-based authentication server",
		Long: `Gatehouse serves a classic form-login surface: signup, login and
logout backed by a PostgreSQL user table and server-side sessions.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewHashPasswordCmd())
	cmd.AddCommand(NewRevokeSessionsCmd())

	return cmd
}
