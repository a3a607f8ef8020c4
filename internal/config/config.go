package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-polling/internal/polling"
	"github.com/i474232898/weather-polling/internal/weather"
)

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

type StoreConfig struct {
	Backend    string `mapstructure:"backend" validate:"oneof=memory sqlite redis"`
	SQLitePath string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	RedisAddr  string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	// MaxHistory is the number of history days kept per location (0 = unlimited).
	MaxHistory int `mapstructure:"max_history" validate:"gte=0"`
}

type ProvidersConfig struct {
	Default           string `mapstructure:"default" validate:"oneof=openmeteo metno openweathermap weatherapi"`
	OpenWeatherAPIKey string `mapstructure:"openweather_api_key"`
	WeatherAPIKey     string `mapstructure:"weatherapi_api_key"`
	MetNoUserAgent    string `mapstructure:"metno_user_agent" validate:"required"`
}

type LocationConfig struct {
	Resolver       string  `mapstructure:"resolver" validate:"oneof=ip geocoder"`
	GeocoderAPIKey string  `mapstructure:"geocoder_api_key"`
	DeviceLat      float64 `mapstructure:"device_lat" validate:"gte=-90,lte=90"`
	DeviceLon      float64 `mapstructure:"device_lon" validate:"gte=-180,lte=180"`
}

type NATSConfig struct {
	// URL is empty when events are only delivered in process.
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LocationsConfig struct {
	CurrentPosition bool `mapstructure:"current_position"`
	// Seed lists "lat,lon[,source]" entries separated by ";".
	Seed string `mapstructure:"seed"`
}

type AppConfig struct {
	Port        string        `mapstructure:"port" validate:"required"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	JobTimeout  time.Duration `mapstructure:"job_timeout" validate:"gt=0"`
	// TimeZone is the zone forecast times are read in.
	TimeZone string `mapstructure:"time_zone"`

	Log       LogConfig        `mapstructure:"log"`
	Store     StoreConfig      `mapstructure:"store"`
	Providers ProvidersConfig  `mapstructure:"providers"`
	Location  LocationConfig   `mapstructure:"location"`
	NATS      NATSConfig       `mapstructure:"nats"`
	Polling   polling.Settings `mapstructure:"polling"`
	Locations LocationsConfig  `mapstructure:"locations"`
}

var defaults = map[string]any{
	"port":         "8080",
	"http_timeout": "10s",
	"job_timeout":  "5m",
	"time_zone":    "",

	"log.level":       "info",
	"log.development": false,

	"store.backend":     "memory",
	"store.sqlite_path": "",
	"store.redis_addr":  "",
	"store.max_history": 30,

	"providers.default":             "openmeteo",
	"providers.openweather_api_key": "",
	"providers.weatherapi_api_key":  "",
	"providers.metno_user_agent":    "weather-polling/1.0 github.com/i474232898/weather-polling",

	"location.resolver":         "ip",
	"location.geocoder_api_key": "",
	"location.device_lat":       0.0,
	"location.device_lon":       0.0,

	"nats.url":            "",
	"nats.subject_prefix": "weather",

	"polling.background_free":           true,
	"polling.update_interval_enabled":   true,
	"polling.update_interval":           "1h30m",
	"polling.today_forecast_enabled":    false,
	"polling.today_forecast_time":       "07:30",
	"polling.tomorrow_forecast_enabled": false,
	"polling.tomorrow_forecast_time":    "21:30",

	"locations.current_position": true,
	"locations.seed":             "",
}

// Environment names kept from earlier releases.
var legacyEnv = map[string]string{
	"providers.openweather_api_key": "OPENWEATHER_API_KEY",
	"providers.weatherapi_api_key":  "WEATHERAPI_API_KEY",
	"store.max_history":             "STORE_MAX_HISTORY",
	"polling.update_interval":       "FETCH_INTERVAL",
}

var validate = validator.New()

// Load reads configuration from .env, an optional YAML file named by
// WEATHER_CONFIG and the environment, with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(os.Getenv("WEATHER_CONFIG"))
}

// LoadFile is Load without the .env step; path may be empty.
func LoadFile(path string) (*AppConfig, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Polling.Validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Zone(); err != nil {
		return nil, err
	}
	if _, err := cfg.SeedLocations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Zone returns the configured time zone, time.Local when unset.
func (c *AppConfig) Zone() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	zone, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE: %w", err)
	}
	return zone, nil
}

// SeedLocations returns the initial location list: the current-position
// entry first when enabled, then the seeded coordinates.
func (c *AppConfig) SeedLocations() ([]*weather.Location, error) {
	var locs []*weather.Location
	if c.Locations.CurrentPosition {
		locs = append(locs, &weather.Location{CurrentPosition: true, ResidentPosition: true})
	}
	for _, entry := range strings.Split(c.Locations.Seed, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		loc, err := parseSeed(entry)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func parseSeed(entry string) (*weather.Location, error) {
	parts := strings.Split(entry, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid seed location %q: want lat,lon[,source]", entry)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seed latitude %q: %w", parts[0], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seed longitude %q: %w", parts[1], err)
	}
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, fmt.Errorf("invalid seed location %q: %w", entry, err)
	}
	loc := &weather.Location{Latitude: lat, Longitude: lon}
	if len(parts) == 3 {
		loc.WeatherSource = strings.TrimSpace(parts[2])
	}
	return loc, nil
}
