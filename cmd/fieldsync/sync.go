package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/store"
	"github.com/datrix/fieldsync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync cycle now",
	Long: `Run a manual sync: push all pending local changes, pull remote
updates, and clean up unassigned questionnaires.

A manual sync resets the retry budget of quarantined rows, so it is the
recovery path for rows that repeatedly failed to push.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}
		if err := cfg.Validate(); err != nil {
			fatal("%v", err)
		}

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fatal("opening local database: %v", err)
		}
		defer st.Close()

		ctx := context.Background()
		if err := st.InitSchema(ctx); err != nil {
			fatal("initializing schema: %v", err)
		}

		token := cfg.Token
		client := backend.NewClient(cfg.BackendURL, func(context.Context) (string, error) { return token, nil })

		if !client.CheckConnectivity(ctx, nil).Online() {
			fatal("backend %s is not reachable", cfg.BackendURL)
		}

		if err := st.ResetRetryCounts(ctx, syncer.PushTableNames()); err != nil {
			fatal("resetting retry counts: %v", err)
		}

		logger := log.New(os.Stderr, "", log.LstdFlags)
		status := syncer.NewStatus()
		status.Begin(cfg.UserID)

		pusher := &syncer.Pusher{Store: st, Client: client, Status: status, Logger: logger, MaxRetries: cfg.MaxRetries}
		puller := &syncer.Puller{Store: st, Client: client, Status: status, Logger: logger}
		cleaner := &syncer.Cleaner{Store: st, Client: client, Status: status, Logger: logger}

		fmt.Printf("Syncing as %s against %s...\n", cfg.UserID, cfg.BackendURL)
		start := time.Now()

		var failed bool
		if err := pusher.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "push: %v\n", err)
			failed = true
		}
		if err := puller.Run(ctx, cfg.UserID); err != nil {
			fmt.Fprintf(os.Stderr, "pull: %v\n", err)
			failed = true
		}
		if err := cleaner.Run(ctx, cfg.UserID); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
			failed = true
		}

		snap := status.Snapshot()
		fmt.Printf("Sync finished in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Pending rows:     %d\n", snap.PendingCount)
		fmt.Printf("   Quarantined rows: %d\n", snap.QuarantinedCount)
		if len(snap.Errors) > 0 {
			fmt.Printf("   Errors:\n")
			for _, e := range snap.Errors {
				fmt.Printf("     %s %s: %s\n", e.Table, e.RowID, e.Message)
			}
		}
		if failed {
			os.Exit(1)
		}
	},
}
