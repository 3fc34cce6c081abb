// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/payzy/payzy/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the payzy CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil, nil)
}

// newRootCmd builds the command tree with injectable dependencies. Nil deps
// use the defaults.
func newRootCmd(serveDeps *ServeDeps, migrateDeps *MigrateDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payzy",
		Short: "payzy - authentication and session API",
		Long: `payzy serves user registration, login and current-user lookup
over HTTP, backed by PostgreSQL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(serveDeps))
	cmd.AddCommand(newMigrateCmd(migrateDeps))

	return cmd
}

// loadConfig resolves configuration for a subcommand from the config file,
// environment and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	//nolint:wrapcheck // config errors already carry codes
	return config.Load(cmd.Flags(), configFile)
}
