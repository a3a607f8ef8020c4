package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/weather-polling/internal/api/http"
	"github.com/i474232898/weather-polling/internal/polling"
	"github.com/i474232898/weather-polling/internal/scheduler"
)

const serviceName = "weather-polling"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background refresh and the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		zone, err := cfg.Zone()
		if err != nil {
			return err
		}

		// Scheduler drives the refresh passes; the manager decides which triggers run.
		sched := scheduler.New(a.runner, zone, cfg.JobTimeout, log)
		sched.Start()
		defer sched.Stop()
		defer a.runner.Cancel()

		manager := polling.NewManager(sched)
		manager.ResetAllBackgroundTask(cfg.Polling, false)

		app := httpapi.NewApp(serviceName)
		handler := httpapi.NewHandler(a.store, manager, cfg.Polling, a.service.Providers(), log)
		handler.Follow(ctx, a.bus)
		handler.OnSettingsChange(func(s polling.Settings) {
			a.runner.SetRefreshInterval(s.UpdateInterval)
		})
		httpapi.RegisterRoutes(app, handler)

		go func() {
			if err := app.Listen(":" + cfg.Port); err != nil {
				log.Errorw("fiber server stopped", "error", err)
				stop()
			}
		}()
		log.Infow("weather polling started",
			"port", cfg.Port,
			"store", cfg.Store.Backend,
			"providers", a.service.Providers(),
			"default_provider", a.service.Default(),
		)

		// Wait for termination signal
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Warnw("error during shutdown", "error", err)
		}
		log.Infow("weather polling stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
