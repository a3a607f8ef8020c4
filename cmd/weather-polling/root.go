package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/i474232898/weather-polling/internal/config"
	"github.com/i474232898/weather-polling/internal/logging"
)

var (
	cfg *config.AppConfig
	log *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "weather-polling",
	Short: "Background weather refresh for a list of locations",
	Long: `Keeps cached weather for a list of locations fresh, either on a fixed
interval or at daily forecast times, and serves it over HTTP.

Examples:
  weather-polling serve
  weather-polling refresh
  weather-polling refresh --forecast tomorrow
  weather-polling locations add --lat 48.8566 --lon 2.3522 --source metno`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		log = logger.Sugar()
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if log != nil {
			_ = log.Sync()
		}
		return nil
	},
}
