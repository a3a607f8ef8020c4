package polling

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// MinUpdateInterval is the shortest polling interval accepted.
const MinUpdateInterval = 15 * time.Minute

// Settings are the user choices that select the background triggers.
type Settings struct {
	// BackgroundFree schedules each trigger on its own instead of keeping a
	// permanent service alive.
	BackgroundFree bool `json:"backgroundFree" mapstructure:"background_free"`

	UpdateIntervalEnabled bool          `json:"updateIntervalEnabled" mapstructure:"update_interval_enabled"`
	UpdateInterval        time.Duration `json:"updateInterval" mapstructure:"update_interval"`

	TodayForecastEnabled bool   `json:"todayForecastEnabled" mapstructure:"today_forecast_enabled"`
	TodayForecastTime    string `json:"todayForecastTime" mapstructure:"today_forecast_time" validate:"required_if=TodayForecastEnabled true,omitempty,datetime=15:04"`

	TomorrowForecastEnabled bool   `json:"tomorrowForecastEnabled" mapstructure:"tomorrow_forecast_enabled"`
	TomorrowForecastTime    string `json:"tomorrowForecastTime" mapstructure:"tomorrow_forecast_time" validate:"required_if=TomorrowForecastEnabled true,omitempty,datetime=15:04"`
}

// DefaultSettings mirror a fresh install.
func DefaultSettings() Settings {
	return Settings{
		BackgroundFree:          true,
		UpdateIntervalEnabled:   true,
		UpdateInterval:          DefaultRefreshInterval,
		TodayForecastTime:       "07:30",
		TomorrowForecastTime:    "21:30",
		TodayForecastEnabled:    false,
		TomorrowForecastEnabled: false,
	}
}

var settingsValidator = validator.New()

// Validate checks forecast times and the polling interval.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.UpdateIntervalEnabled && s.UpdateInterval < MinUpdateInterval {
		return fmt.Errorf("invalid settings: update interval must be at least %s", MinUpdateInterval)
	}
	return nil
}

// AnyEnabled reports whether at least one trigger is wanted.
func (s Settings) AnyEnabled() bool {
	return s.UpdateIntervalEnabled || s.TodayForecastEnabled || s.TomorrowForecastEnabled
}

// Triggers is the scheduling surface the Manager drives. Implementations
// register work asynchronously and swallow their own failures.
type Triggers interface {
	SchedulePolling(interval time.Duration)
	CancelPolling()
	// ScheduleTodayForecast registers the daily trigger at hhmm. With nextDay
	// the first run is tomorrow even when hhmm is still ahead today.
	ScheduleTodayForecast(hhmm string, nextDay bool)
	CancelTodayForecast()
	ScheduleTomorrowForecast(hhmm string, nextDay bool)
	CancelTomorrowForecast()
	StartPermanentService(Settings)
	StopPermanentService()
	// ForceRefresh runs an immediate one-shot refresh.
	ForceRefresh()
}

// Manager selects the active triggers from Settings.
type Manager struct {
	triggers Triggers
}

func NewManager(triggers Triggers) *Manager {
	return &Manager{triggers: triggers}
}

// ResetAllBackgroundTask re-evaluates every trigger.
func (m *Manager) ResetAllBackgroundTask(s Settings, forceRefresh bool) {
	if forceRefresh {
		m.triggers.ForceRefresh()
		return
	}
	if !s.BackgroundFree {
		m.usePermanentService(s)
		return
	}

	m.triggers.StopPermanentService()
	m.resetNormal(s)
	m.resetToday(s, false)
	m.resetTomorrow(s, false)
}

// ResetNormalBackgroundTask re-evaluates the interval polling trigger.
func (m *Manager) ResetNormalBackgroundTask(s Settings, forceRefresh bool) {
	if forceRefresh {
		m.triggers.ForceRefresh()
		return
	}
	if !s.BackgroundFree {
		m.usePermanentService(s)
		return
	}
	m.triggers.StopPermanentService()
	m.resetNormal(s)
}

// ResetTodayForecastBackgroundTask re-evaluates the today forecast trigger.
func (m *Manager) ResetTodayForecastBackgroundTask(s Settings, forceRefresh, nextDay bool) {
	if forceRefresh {
		m.triggers.ForceRefresh()
		return
	}
	if !s.BackgroundFree {
		m.usePermanentService(s)
		return
	}
	m.triggers.StopPermanentService()
	m.resetToday(s, nextDay)
}

// ResetTomorrowForecastBackgroundTask re-evaluates the tomorrow forecast trigger.
func (m *Manager) ResetTomorrowForecastBackgroundTask(s Settings, forceRefresh, nextDay bool) {
	if forceRefresh {
		m.triggers.ForceRefresh()
		return
	}
	if !s.BackgroundFree {
		m.usePermanentService(s)
		return
	}
	m.triggers.StopPermanentService()
	m.resetTomorrow(s, nextDay)
}

func (m *Manager) usePermanentService(s Settings) {
	m.triggers.CancelPolling()
	m.triggers.CancelTodayForecast()
	m.triggers.CancelTomorrowForecast()
	if s.AnyEnabled() {
		m.triggers.StartPermanentService(s)
	} else {
		m.triggers.StopPermanentService()
	}
}

func (m *Manager) resetNormal(s Settings) {
	if s.UpdateIntervalEnabled {
		m.triggers.SchedulePolling(s.UpdateInterval)
	} else {
		m.triggers.CancelPolling()
	}
}

func (m *Manager) resetToday(s Settings, nextDay bool) {
	if s.TodayForecastEnabled {
		m.triggers.ScheduleTodayForecast(s.TodayForecastTime, nextDay)
	} else {
		m.triggers.CancelTodayForecast()
	}
}

func (m *Manager) resetTomorrow(s Settings, nextDay bool) {
	if s.TomorrowForecastEnabled {
		m.triggers.ScheduleTomorrowForecast(s.TomorrowForecastTime, nextDay)
	} else {
		m.triggers.CancelTomorrowForecast()
	}
}

// ErrInvalidClock is returned by NextOccurrence for malformed HH:mm values.
var ErrInvalidClock = errors.New("invalid HH:mm time")

// NextOccurrence returns the next instant at hhmm in zone after now. With
// nextDay the result is never today.
func NextOccurrence(now time.Time, hhmm string, nextDay bool, zone *time.Location) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidClock, hhmm)
	}
	if zone == nil {
		zone = time.Local
	}
	local := now.In(zone)
	at := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour(), clock.Minute(), 0, 0, zone)
	if nextDay || !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}
