package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datrix/fieldsync/internal/config"
)

var (
	flagConfig  string
	flagDB      string
	flagBackend string
	flagUser    string
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first sync engine for field survey data",
	Long: `fieldsync keeps a local SQLite mirror of a field worker's survey
data and reconciles it with the remote data service: dirty rows are
pushed individually, changed rows are pulled incrementally behind
per-table watermarks, and data for unassigned questionnaires is
reclaimed once it is fully synced.`,
	SilenceUsage: true,
}

// loadConfig merges the config file with command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagBackend != "" {
		cfg.BackendURL = flagBackend
	}
	if flagUser != "" {
		cfg.UserID = flagUser
	}
	return cfg, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: fieldsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "local database path")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend-url", "", "remote data service base URL")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "authenticated user id")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
