package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/i474232898/weather-polling/internal/weather"
)

var locationsCmd = &cobra.Command{
	Use:     "locations",
	Aliases: []string{"loc"},
	Short:   "Manage the stored location list",
}

var locationsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored locations with their cached weather",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.ReadLocationList(ctx)
		if err != nil {
			return fmt.Errorf("failed to list locations: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No locations stored yet. Use 'weather-polling locations add' to add one.")
			return nil
		}

		for i, loc := range list {
			line := fmt.Sprintf("%d. %s %s", i+1, color.GreenString(loc.FormattedID()), loc.String())
			w, err := st.ReadWeather(ctx, loc)
			switch {
			case err == nil:
				line += fmt.Sprintf("  %.1f°C", w.Current.TemperatureC)
				line += color.HiBlackString("  (updated %s)", w.Base.UpdateTime.Local().Format("2006-01-02 15:04"))
			case errors.Is(err, weather.ErrNotFound):
				line += color.HiBlackString("  (no weather yet)")
			default:
				fmt.Fprintf(os.Stderr, "warning: failed to read weather for %s: %v\n", loc.FormattedID(), err)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var (
	addLat    float64
	addLon    float64
	addCityID string
	addSource string
	addZone   string
)

var locationsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a location to the list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := weather.ValidateCoordinates(addLat, addLon); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		loc := &weather.Location{
			CityID:        addCityID,
			Latitude:      addLat,
			Longitude:     addLon,
			TimeZone:      addZone,
			WeatherSource: addSource,
		}
		list, err := st.ReadLocationList(ctx)
		if err != nil {
			return fmt.Errorf("failed to list locations: %w", err)
		}
		for _, existing := range list {
			if existing.FormattedID() == loc.FormattedID() {
				return fmt.Errorf("location %s already exists", loc.FormattedID())
			}
		}
		if err := st.WriteLocation(ctx, loc); err != nil {
			return fmt.Errorf("failed to add location: %w", err)
		}
		fmt.Printf("Added %s\n", color.GreenString(loc.FormattedID()))
		return nil
	},
}

var locationsRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a location and its cached weather",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteLocation(ctx, args[0]); err != nil {
			if errors.Is(err, weather.ErrNotFound) {
				return fmt.Errorf("location '%s' not found", args[0])
			}
			return fmt.Errorf("failed to remove location: %w", err)
		}
		fmt.Printf("Removed %s\n", color.YellowString(args[0]))
		return nil
	},
}

func init() {
	locationsAddCmd.Flags().Float64Var(&addLat, "lat", 0, "latitude")
	locationsAddCmd.Flags().Float64Var(&addLon, "lon", 0, "longitude")
	locationsAddCmd.Flags().StringVar(&addCityID, "city-id", "", "stable id; defaults to the coordinates")
	locationsAddCmd.Flags().StringVar(&addSource, "source", "", "weather provider; empty uses the default")
	locationsAddCmd.Flags().StringVar(&addZone, "tz", "", "IANA time zone")
	_ = locationsAddCmd.MarkFlagRequired("lat")
	_ = locationsAddCmd.MarkFlagRequired("lon")

	locationsCmd.AddCommand(locationsListCmd, locationsAddCmd, locationsRemoveCmd)
	rootCmd.AddCommand(locationsCmd)
}
