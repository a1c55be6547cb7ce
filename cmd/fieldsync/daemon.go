package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/config"
	"github.com/datrix/fieldsync/internal/dashboard"
	"github.com/datrix/fieldsync/internal/spool"
	"github.com/datrix/fieldsync/internal/store"
	"github.com/datrix/fieldsync/internal/syncer"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync engine in the foreground",
	Long: `Run the full sync engine: periodic pulls, debounced pushes after
local writes, connectivity recovery, the photo upload spool, and the
status dashboard. Stops cleanly on SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}
		if err := cfg.Validate(); err != nil {
			fatal("%v", err)
		}

		logger := newDaemonLogger(cfg)

		st := openStore(cfg.DBPath, logger)
		if st != nil {
			defer st.Close()
		}

		token := cfg.Token
		client := backend.NewClient(cfg.BackendURL, func(context.Context) (string, error) { return token, nil })
		status := syncer.NewStatus()

		var (
			engine    *syncer.Engine
			photos    *spool.Service
			stopProbe context.CancelFunc
		)
		if st != nil {
			engine = syncer.New(st, client, status, syncer.Config{
				PullInterval:  cfg.PullInterval,
				PushDebounce:  cfg.PushDebounce,
				ProbeInterval: cfg.ProbeInterval,
				MaxRetries:    cfg.MaxRetries,
				Logger:        logger,
			})
			if err := engine.Start(cfg.UserID); err != nil {
				fatal("starting sync engine: %v", err)
			}

			photos = &spool.Service{
				Store:      st,
				Files:      client,
				Logger:     logger,
				Dir:        cfg.SpoolDir,
				Bucket:     cfg.Bucket,
				MaxRetries: cfg.MaxRetries,
				OnUploaded: engine.NotifyWrite,
			}
			if err := photos.Start(); err != nil {
				engine.Stop()
				fatal("starting photo spool: %v", err)
			}
		} else {
			// Online-only mode: no local mirror means nothing to sync
			// or spool, but the dashboard keeps reporting connectivity.
			status.Begin(cfg.UserID)
			var probeCtx context.Context
			probeCtx, stopProbe = context.WithCancel(context.Background())
			go watchConnectivity(probeCtx, client, status, cfg.ProbeInterval)
		}

		var dash *dashboard.Server
		if cfg.DashboardPort > 0 {
			dash = dashboard.NewServer(status, &dashboard.Config{
				Port:   cfg.DashboardPort,
				Logger: logger,
				Store:  st,
			})
			if err := dash.Start(); err != nil {
				logger.Printf("[daemon] dashboard disabled: %v", err)
				dash = nil
			}
		}

		if st != nil {
			fmt.Printf("fieldsync daemon running (user %s, db %s)\n", cfg.UserID, cfg.DBPath)
		} else {
			fmt.Printf("fieldsync daemon running online-only (user %s, local database unavailable)\n", cfg.UserID)
		}
		if dash != nil {
			fmt.Printf("dashboard: http://localhost:%d/status\n", cfg.DashboardPort)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Printf("[daemon] shutting down")

		// Stop producers before the engine, and the engine before the
		// store closes underneath it.
		if dash != nil {
			if err := dash.Stop(); err != nil {
				logger.Printf("[daemon] stop dashboard: %v", err)
			}
		}
		if photos != nil {
			photos.Stop()
		}
		if engine != nil {
			engine.Stop()
		}
		if stopProbe != nil {
			stopProbe()
		}
	},
}

// openStore opens and migrates the local database. A failure degrades
// the daemon to online-only mode instead of killing it, so a corrupt or
// unwritable database never takes the whole process down.
func openStore(path string, logger *log.Logger) *store.Store {
	st, err := store.Open(path)
	if err != nil {
		logger.Printf("[daemon] local database unavailable, continuing online-only: %v", err)
		return nil
	}
	if err := st.InitSchema(context.Background()); err != nil {
		logger.Printf("[daemon] schema init failed, continuing online-only: %v", err)
		st.Close()
		return nil
	}
	return st
}

// watchConnectivity keeps the status feed's online flag fresh while the
// sync engine is not running.
func watchConnectivity(ctx context.Context, client *backend.Client, status *syncer.Status, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	check := func() {
		conn := client.CheckConnectivity(ctx, nil)
		status.SetOnline(conn.Online())
	}
	check()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// newDaemonLogger writes to the configured log file with rotation, or to
// stderr when no file is set.
func newDaemonLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	return log.New(out, "", log.LstdFlags)
}
