package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"

	"github.com/i474232898/weather-polling/internal/broadcast"
	"github.com/i474232898/weather-polling/internal/location"
	"github.com/i474232898/weather-polling/internal/polling"
	"github.com/i474232898/weather-polling/internal/store"
	"github.com/i474232898/weather-polling/internal/weather"
	"github.com/i474232898/weather-polling/internal/weather/providers"
)

// app holds the components shared by the commands.
type app struct {
	store   weather.Store
	service *weather.Service
	bus     *broadcast.LocalBus
	nc      *nats.Conn
	runner  *polling.Runner
}

func openStore(ctx context.Context) (weather.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Backend:    cfg.Store.Backend,
		SQLitePath: cfg.Store.SQLitePath,
		RedisAddr:  cfg.Store.RedisAddr,
		MaxHistory: cfg.Store.MaxHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// seedLocations writes the configured list when the store has none yet.
func seedLocations(ctx context.Context, st weather.Store) error {
	list, err := st.ReadLocationList(ctx)
	if err != nil {
		return fmt.Errorf("read location list: %w", err)
	}
	if len(list) > 0 {
		return nil
	}
	seed, err := cfg.SeedLocations()
	if err != nil {
		return err
	}
	if len(seed) == 0 {
		return nil
	}
	log.Infow("seeding location list", "count", len(seed))
	return st.WriteLocationList(ctx, seed)
}

func newWeatherService(client *http.Client) (*weather.Service, error) {
	provs := []weather.Provider{
		providers.NewOpenMeteoProvider(client, providers.WithLogger(log)),
		providers.NewMetNoProvider(client, cfg.Providers.MetNoUserAgent, providers.WithLogger(log)),
	}
	// Keyed providers are only registered when a key is configured.
	if cfg.Providers.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(client, cfg.Providers.OpenWeatherAPIKey, providers.WithLogger(log)))
	}
	if cfg.Providers.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(client, cfg.Providers.WeatherAPIKey, providers.WithLogger(log)))
	}

	service := weather.NewService(log, provs...)
	if err := service.SetDefault(cfg.Providers.Default); err != nil {
		return nil, fmt.Errorf("default provider: %w", err)
	}
	return service, nil
}

func newResolver(client *http.Client) (location.Resolver, error) {
	registry := location.NewRegistry()
	registry.Register("ip", func() (location.Resolver, error) {
		return location.NewIPResolver(client, ""), nil
	})
	registry.Register("geocoder", func() (location.Resolver, error) {
		fix := location.StaticFix{Latitude: cfg.Location.DeviceLat, Longitude: cfg.Location.DeviceLon}
		return location.NewGeocoderResolver(fix, cfg.Location.GeocoderAPIKey), nil
	})
	return registry.New(cfg.Location.Resolver)
}

// newApp opens the store and builds the refresh pipeline. NATS is only
// dialled when publish is set and a URL is configured.
func newApp(ctx context.Context, publish bool) (*app, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{store: st, bus: broadcast.NewLocalBus(0)}

	if err := seedLocations(ctx, st); err != nil {
		a.close()
		return nil, err
	}

	a.service, err = newWeatherService(client)
	if err != nil {
		a.close()
		return nil, err
	}

	resolver, err := newResolver(client)
	if err != nil {
		a.close()
		return nil, err
	}

	var out broadcast.Broadcaster = a.bus
	if publish && cfg.NATS.URL != "" {
		a.nc, err = broadcast.ConnectNATS(broadcast.NATSConfig{URL: cfg.NATS.URL}, log)
		if err != nil {
			a.close()
			return nil, err
		}
		out = broadcast.Multi{a.bus, broadcast.NewNATSBroadcaster(a.nc, cfg.NATS.SubjectPrefix)}
		log.Infow("publishing events to nats", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	a.runner = polling.NewRunner(st, resolver, a.service, out, polling.Options{
		RefreshInterval: cfg.Polling.UpdateInterval,
		Logger:          log,
	})
	return a, nil
}

func (a *app) close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			log.Warnw("nats drain failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warnw("store close failed", "error", err)
		}
	}
}
