package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/datrix/fieldsync/internal/store"
	"github.com/datrix/fieldsync/internal/syncer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	Long: `Show per-table pending counts, quarantined rows, and pull
watermarks from the local database. Works fully offline.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
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

		fmt.Printf("Database: %s\n\n", st.Path())
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tPENDING\tQUARANTINED\tLAST PULLED")

		totalPending, totalQuarantined := 0, 0
		for _, t := range syncer.PushTables {
			pending, err := st.DirtyCount(ctx, t.Name)
			if err != nil {
				fatal("reading %s: %v", t.Name, err)
			}
			quarantined, err := st.QuarantinedCount(ctx, t.Name, cfg.MaxRetries)
			if err != nil {
				fatal("reading %s: %v", t.Name, err)
			}
			wm, err := st.Watermark(ctx, t.Name)
			if err != nil {
				fatal("reading %s: %v", t.Name, err)
			}
			if wm == store.Epoch {
				wm = "never"
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", t.Name, pending, quarantined, wm)
			totalPending += pending
			totalQuarantined += quarantined
		}
		w.Flush()

		fmt.Printf("\nPending total: %d", totalPending)
		if totalQuarantined > 0 {
			fmt.Printf("  (%d quarantined; run 'fieldsync sync' to retry them)", totalQuarantined)
		}
		fmt.Println()
	},
}
