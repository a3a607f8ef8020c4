package polling

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTriggers struct {
	calls []string
}

func (r *recordingTriggers) record(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recordingTriggers) SchedulePolling(d time.Duration) { r.record("schedule polling %s", d) }
func (r *recordingTriggers) CancelPolling()                  { r.record("cancel polling") }
func (r *recordingTriggers) ScheduleTodayForecast(at string, nextDay bool) {
	r.record("schedule today %s %t", at, nextDay)
}
func (r *recordingTriggers) CancelTodayForecast() { r.record("cancel today") }
func (r *recordingTriggers) ScheduleTomorrowForecast(at string, nextDay bool) {
	r.record("schedule tomorrow %s %t", at, nextDay)
}
func (r *recordingTriggers) CancelTomorrowForecast()        { r.record("cancel tomorrow") }
func (r *recordingTriggers) StartPermanentService(Settings) { r.record("start permanent") }
func (r *recordingTriggers) StopPermanentService()          { r.record("stop permanent") }
func (r *recordingTriggers) ForceRefresh()                  { r.record("force refresh") }

func TestResetAllBackgroundTask(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     []string
	}{
		{
			name: "background free schedules only enabled triggers",
			settings: Settings{
				BackgroundFree:       true,
				TodayForecastEnabled: true,
				TodayForecastTime:    "07:30",
				TomorrowForecastTime: "21:30",
			},
			want: []string{"stop permanent", "cancel polling", "schedule today 07:30 false", "cancel tomorrow"},
		},
		{
			name: "background free with everything enabled",
			settings: Settings{
				BackgroundFree:          true,
				UpdateIntervalEnabled:   true,
				UpdateInterval:          time.Hour,
				TodayForecastEnabled:    true,
				TodayForecastTime:       "07:30",
				TomorrowForecastEnabled: true,
				TomorrowForecastTime:    "21:30",
			},
			want: []string{"stop permanent", "schedule polling 1h0m0s", "schedule today 07:30 false", "schedule tomorrow 21:30 false"},
		},
		{
			name:     "permanent service stopped when nothing is enabled",
			settings: Settings{TodayForecastTime: "07:30", TomorrowForecastTime: "21:30"},
			want:     []string{"cancel polling", "cancel today", "cancel tomorrow", "stop permanent"},
		},
		{
			name: "permanent service started when any trigger is enabled",
			settings: Settings{
				TomorrowForecastEnabled: true,
				TodayForecastTime:       "07:30",
				TomorrowForecastTime:    "21:30",
			},
			want: []string{"cancel polling", "cancel today", "cancel tomorrow", "start permanent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			triggers := &recordingTriggers{}
			NewManager(triggers).ResetAllBackgroundTask(tt.settings, false)
			assert.Equal(t, tt.want, triggers.calls)
		})
	}
}

func TestForceRefreshShortCircuits(t *testing.T) {
	for _, bgFree := range []bool{true, false} {
		s := DefaultSettings()
		s.BackgroundFree = bgFree
		m := func() (*Manager, *recordingTriggers) {
			tr := &recordingTriggers{}
			return NewManager(tr), tr
		}

		mgr, tr := m()
		mgr.ResetAllBackgroundTask(s, true)
		assert.Equal(t, []string{"force refresh"}, tr.calls)

		mgr, tr = m()
		mgr.ResetNormalBackgroundTask(s, true)
		assert.Equal(t, []string{"force refresh"}, tr.calls)

		mgr, tr = m()
		mgr.ResetTodayForecastBackgroundTask(s, true, true)
		assert.Equal(t, []string{"force refresh"}, tr.calls)

		mgr, tr = m()
		mgr.ResetTomorrowForecastBackgroundTask(s, true, false)
		assert.Equal(t, []string{"force refresh"}, tr.calls)
	}
}

func TestResetSingleTriggers(t *testing.T) {
	s := DefaultSettings()
	s.TodayForecastEnabled = true

	tr := &recordingTriggers{}
	NewManager(tr).ResetTodayForecastBackgroundTask(s, false, true)
	assert.Equal(t, []string{"stop permanent", "schedule today 07:30 true"}, tr.calls)

	tr = &recordingTriggers{}
	NewManager(tr).ResetTomorrowForecastBackgroundTask(s, false, false)
	assert.Equal(t, []string{"stop permanent", "cancel tomorrow"}, tr.calls)

	tr = &recordingTriggers{}
	NewManager(tr).ResetNormalBackgroundTask(s, false)
	assert.Equal(t, []string{"stop permanent", "schedule polling 1h30m0s"}, tr.calls)

	s.BackgroundFree = false
	tr = &recordingTriggers{}
	NewManager(tr).ResetNormalBackgroundTask(s, false)
	assert.Equal(t, []string{"cancel polling", "cancel today", "cancel tomorrow", "start permanent"}, tr.calls)
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.TodayForecastTime = "25:00"
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.UpdateInterval = time.Minute
	assert.Error(t, s.Validate())

	s.UpdateIntervalEnabled = false
	assert.NoError(t, s.Validate())

	// forecast times are only required for enabled triggers
	s = DefaultSettings()
	s.TodayForecastTime, s.TomorrowForecastTime = "", ""
	assert.NoError(t, s.Validate())
	s.TomorrowForecastEnabled = true
	assert.Error(t, s.Validate())
	s.TomorrowForecastTime = "21:00"
	assert.NoError(t, s.Validate())
	s.TodayForecastTime = "7am"
	assert.Error(t, s.Validate(), "a malformed time is rejected even when disabled")

	assert.True(t, DefaultSettings().AnyEnabled())
	assert.False(t, Settings{}.AnyEnabled())
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	at, err := NextOccurrence(now, "21:30", false, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 21, 30, 0, 0, time.UTC), at)

	at, err = NextOccurrence(now, "07:30", false, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 7, 30, 0, 0, time.UTC), at)

	at, err = NextOccurrence(now, "21:30", true, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 21, 30, 0, 0, time.UTC), at)

	_, err = NextOccurrence(now, "7h", false, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidClock)
}
