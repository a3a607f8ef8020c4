// Package store persists the location list, the latest weather snapshot per
// location and the per-day history records.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/i474232898/weather-polling/internal/weather"
)

// Config selects and configures a store backend.
type Config struct {
	Backend    string // memory, sqlite or redis
	SQLitePath string
	RedisAddr  string
	// MaxHistory is the number of history days kept per location; <= 0 keeps all.
	MaxHistory int
}

// Open builds the store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (weather.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(cfg.MaxHistory), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, cfg.MaxHistory)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.MaxHistory)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// detach returns a copy of loc without the runtime weather attachment.
func detach(loc *weather.Location) *weather.Location {
	cp := *loc
	cp.Weather = nil
	return &cp
}

func detachAll(list []*weather.Location) []*weather.Location {
	out := make([]*weather.Location, 0, len(list))
	for _, loc := range list {
		if loc == nil {
			continue
		}
		out = append(out, detach(loc))
	}
	return out
}

// snapshot copies w for storage, dropping the read-side yesterday attachment.
func snapshot(w *weather.Weather) *weather.Weather {
	cp := *w
	cp.Yesterday = nil
	return &cp
}

// yesterdayDate returns the day before the snapshot's own day.
func yesterdayDate(loc *weather.Location, w *weather.Weather) (string, bool) {
	today := w.TodayHistory(loc).Date
	prev, err := weather.PreviousDate(today)
	if err != nil {
		return "", false
	}
	return prev, true
}

func indexOf(list []*weather.Location, id string) int {
	for i, loc := range list {
		if loc.FormattedID() == id {
			return i
		}
	}
	return -1
}
