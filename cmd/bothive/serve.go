package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bothive/internal/db"
	"bothive/internal/engine"
	"bothive/internal/events"
	"bothive/internal/metrics"
	"bothive/internal/notify"
	"bothive/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot hosting plane",
	Long:  `Starts the API server, the websocket feeds, and the process supervisor, and reconciles any bots left marked running by a previous instance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides listen_addr)")
	_ = viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	store, err := db.NewStore(db.StoreConfig{
		Type:             viper.GetString("db.type"),
		ConnectionString: viper.GetString("db.dsn"),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if root := viper.GetString("workspace_root"); root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return fmt.Errorf("failed to create workspace root: %w", err)
		}
	}

	bus := events.NewBus()
	m := metrics.NewMetrics()
	bus.OnDrop = func(kind string) {
		m.EventDrops.WithLabelValues(kind).Inc()
	}

	cfg := engine.ConfigFromViper()
	cfg.Store = store
	cfg.Bus = bus
	cfg.Metrics = m
	cfg.Notifier = notify.NewManager()

	eng := engine.New(cfg)
	reconcileStaleBots(store)

	srv := web.NewServer(store, eng, bus, m,
		viper.GetInt("log_history"),
		viper.GetInt("max_bots_per_user"))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := fmt.Sprintf(":%d", viper.GetInt("metrics_port"))
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		slog.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()

	err = srv.Serve(ctx, viper.GetString("listen_addr"))

	slog.Info("shutting down, stopping supervised bots")
	eng.Supervisor().StopAll()
	return err
}

// reconcileStaleBots lands bots that were running under a previous instance
// back on stopped; their processes died with the old host.
func reconcileStaleBots(store db.Store) {
	bots, err := store.ListBots("")
	if err != nil {
		slog.Warn("failed to list bots for reconciliation", "error", err)
		return
	}
	for _, bot := range bots {
		if bot.Status != db.StatusRunning && bot.Status != db.StatusStarting {
			continue
		}
		slog.Info("reconciling stale bot", "bot_id", bot.ID, "status", bot.Status)
		if err := store.UpdateBot(bot.ID, db.BotPatch{
			Status:   db.StrPtr(db.StatusStopped),
			ClearPID: true,
			Memory:   db.StrPtr("0MB"),
			CPU:      db.StrPtr("0%"),
			Uptime:   db.StrPtr(""),
		}); err != nil {
			slog.Warn("failed to reconcile bot", "bot_id", bot.ID, "error", err)
		}
	}
}
