// Package broadcast announces refreshed weather and scheduled forecasts to
// whoever renders them.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-polling/internal/weather"
)

// Kind identifies the event type; it is also the NATS subject suffix.
type Kind string

const (
	KindWeatherUpdated   Kind = "weather.updated"
	KindForecastToday    Kind = "forecast.today"
	KindForecastTomorrow Kind = "forecast.tomorrow"
)

// Event is the payload delivered to every broadcaster.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Kind       Kind              `json:"kind"`
	LocationID string            `json:"locationId"`
	Location   *weather.Location `json:"location"`
	Weather    *weather.Weather  `json:"weather,omitempty"`
	Forecast   *weather.Daily    `json:"forecast,omitempty"`
	At         time.Time         `json:"at"`
}

// NewEvent stamps a fresh id and time on an event for loc.
func NewEvent(kind Kind, loc *weather.Location, w *weather.Weather, now time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		LocationID: loc.FormattedID(),
		Location:   loc,
		Weather:    w,
		At:         now.UTC(),
	}
}

// Broadcaster delivers events.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi publishes to every broadcaster and joins their errors.
type Multi []Broadcaster

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
