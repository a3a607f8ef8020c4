package weather

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when no data is available for a location.
var ErrNotFound = errors.New("no weather data for location")

// Provider abstracts a weather data source (e.g. Met.no, Open-Meteo, OpenWeatherMap).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc *Location) (*Weather, error)
}

// Store is the contract every local store (memory, SQLite, Redis) must satisfy.
// Weather and history are keyed by the location's formatted id.
type Store interface {
	ReadLocationList(ctx context.Context) ([]*Location, error)
	WriteLocationList(ctx context.Context, list []*Location) error
	// WriteLocation replaces the stored entry with the same formatted id,
	// appending it when absent.
	WriteLocation(ctx context.Context, loc *Location) error
	DeleteLocation(ctx context.Context, id string) error

	// ReadWeather returns the cached snapshot with yesterday's history attached.
	ReadWeather(ctx context.Context, loc *Location) (*Weather, error)
	// WriteWeather stores the snapshot and merges today's history record.
	WriteWeather(ctx context.Context, loc *Location, w *Weather) error
	ReadHistory(ctx context.Context, loc *Location, date string) (*History, error)

	Close() error
}
