package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datrix/fieldsync/internal/store"
	"github.com/datrix/fieldsync/internal/syncer"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy the local database",
	Long: `Delete the local database and its WAL files. Any unsynced local
changes are lost; reset refuses to run while pending rows exist unless
--force is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fatal("opening local database: %v", err)
		}

		ctx := context.Background()
		if err := st.InitSchema(ctx); err != nil {
			st.Close()
			fatal("initializing schema: %v", err)
		}

		pending := 0
		for _, t := range syncer.PushTables {
			n, err := st.DirtyCount(ctx, t.Name)
			if err != nil {
				st.Close()
				fatal("reading %s: %v", t.Name, err)
			}
			pending += n
		}
		if pending > 0 && !resetForce {
			st.Close()
			fatal("%d unsynced rows would be lost; run 'fieldsync sync' first or use --force", pending)
		}

		if err := st.Destroy(); err != nil {
			fatal("destroying database: %v", err)
		}
		fmt.Printf("Removed %s\n", cfg.DBPath)
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "discard unsynced local changes")
}
