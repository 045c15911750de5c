package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tazhate/coursesync/internal/notify"
	"github.com/tazhate/coursesync/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled auto-sync with a health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sched := scheduler.New(cfg.Location, store, newSyncService(store))
		if cfg.Telegram.Token != "" {
			tg, err := notify.NewTelegram(cfg.Telegram.Token)
			if err != nil {
				return err
			}
			sched.SetNotifier(tg)
		} else {
			slog.Info("telegram notifier disabled, no bot token")
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		go func() {
			if err := sched.Start(ctx); err != nil {
				slog.Error("scheduler error", "err", err)
				cancel()
			}
		}()

		server := &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           healthHandler(sched),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
				cancel()
			}
		}()

		slog.Info("coursesync started", "port", cfg.ServerPort, "tz", cfg.Location.String())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		slog.Info("shutting down")
		cancel()
		sched.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("stopping http server", "err", err)
		}

		slog.Info("coursesync stopped")
		return nil
	},
}

func healthHandler(sched *scheduler.Scheduler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"scheduled": sched.Scheduled(),
		})
	})
	return mux
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
