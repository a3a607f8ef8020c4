package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/i474232898/weather-polling/internal/polling"
)

var (
	refreshForecast string
	refreshForce    bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh pass over the stored locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		if refreshForce {
			// A zero freshness window makes every cached snapshot stale.
			a.runner.SetRefreshInterval(time.Nanosecond)
		}

		var summary polling.Summary
		switch refreshForecast {
		case "":
			summary, err = a.runner.Poll(ctx)
		case "today":
			summary, err = a.runner.TodayForecast(ctx)
		case "tomorrow":
			summary, err = a.runner.TomorrowForecast(ctx)
		default:
			return fmt.Errorf("unknown forecast %q: want today or tomorrow", refreshForecast)
		}
		if err != nil {
			return err
		}

		printSummary(summary)
		if failed := summary.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d of %d locations failed to refresh", len(failed), summary.Total)
		}
		return nil
	},
}

func printSummary(s polling.Summary) {
	for _, r := range s.Results {
		mark := color.GreenString("✓")
		if !r.Succeed {
			mark = color.RedString("✗")
		}
		line := fmt.Sprintf("%s [%d/%d] %s", mark, r.Index+1, r.Total, color.CyanString(r.Location.String()))
		if w := r.Location.Weather; w != nil {
			line += fmt.Sprintf("  %.1f°C %s", w.Current.TemperatureC, w.Current.Condition)
			line += color.HiBlackString("  (updated %s)", w.Base.UpdateTime.Local().Format("15:04"))
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d/%d refreshed\n", s.Succeeded, s.Total)
}

func init() {
	refreshCmd.Flags().StringVar(&refreshForecast, "forecast", "", "publish a forecast after refreshing: today or tomorrow")
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "ignore cached weather")
	rootCmd.AddCommand(refreshCmd)
}
