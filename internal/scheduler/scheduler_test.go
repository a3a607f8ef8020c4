package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weather-polling/internal/polling"
)

type countingRunner struct {
	polls    *atomic.Int32
	today    *atomic.Int32
	tomorrow *atomic.Int32
}

func newCountingRunner() *countingRunner {
	return &countingRunner{
		polls:    atomic.NewInt32(0),
		today:    atomic.NewInt32(0),
		tomorrow: atomic.NewInt32(0),
	}
}

func (r *countingRunner) Poll(context.Context) (polling.Summary, error) {
	r.polls.Inc()
	return polling.Summary{Total: 1, Succeeded: 1, Completed: true}, nil
}

func (r *countingRunner) TodayForecast(context.Context) (polling.Summary, error) {
	r.today.Inc()
	return polling.Summary{}, nil
}

func (r *countingRunner) TomorrowForecast(context.Context) (polling.Summary, error) {
	r.tomorrow.Inc()
	return polling.Summary{}, nil
}

func newTestScheduler(t *testing.T, runner Runner) *Scheduler {
	t.Helper()
	s := New(runner, time.UTC, time.Second, zaptest.NewLogger(t).Sugar())
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulePollingReplacesJob(t *testing.T) {
	runner := newCountingRunner()
	s := newTestScheduler(t, runner)
	s.Start()

	s.SchedulePolling(time.Hour)
	s.SchedulePolling(2 * time.Hour)
	assert.True(t, s.Scheduled(TagPolling))

	jobs, err := s.scheduler.FindJobsByTag(TagPolling)
	assert.NoError(t, err)
	assert.Len(t, jobs, 1)

	s.CancelPolling()
	assert.False(t, s.Scheduled(TagPolling))
	s.CancelPolling()

	// WaitForSchedule keeps the first run an interval away.
	assert.Zero(t, runner.polls.Load())
}

func TestSchedulePollingRejectsZeroInterval(t *testing.T) {
	s := newTestScheduler(t, newCountingRunner())
	s.SchedulePolling(0)
	assert.False(t, s.Scheduled(TagPolling))
}

func TestForecastTriggers(t *testing.T) {
	runner := newCountingRunner()
	s := newTestScheduler(t, runner)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	s.Start()

	s.ScheduleTodayForecast("07:30", false)
	s.ScheduleTomorrowForecast("21:30", true)
	assert.True(t, s.Scheduled(TagTodayForecast))
	assert.True(t, s.Scheduled(TagTomorrowForecast))

	s.ScheduleTodayForecast("not-a-time", false)
	assert.False(t, s.Scheduled(TagTodayForecast), "a bad time drops the previous registration")

	s.CancelTomorrowForecast()
	s.CancelTodayForecast()
	assert.False(t, s.Scheduled(TagTomorrowForecast))
	assert.Zero(t, runner.today.Load())
	assert.Zero(t, runner.tomorrow.Load())
}

func TestForceRefreshRunsOnce(t *testing.T) {
	runner := newCountingRunner()
	s := newTestScheduler(t, runner)
	s.Start()

	s.ForceRefresh()
	assert.Eventually(t, func() bool { return runner.polls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return runner.polls.Load() > 1 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestPermanentService(t *testing.T) {
	s := newTestScheduler(t, newCountingRunner())
	assert.Equal(t, -1, s.PermanentEntries())

	settings := polling.DefaultSettings()
	settings.TodayForecastEnabled = true
	s.StartPermanentService(settings)
	assert.Equal(t, 2, s.PermanentEntries())

	settings.TomorrowForecastEnabled = true
	settings.UpdateIntervalEnabled = false
	s.StartPermanentService(settings)
	assert.Equal(t, 2, s.PermanentEntries())

	settings.TomorrowForecastTime = "bad"
	s.StartPermanentService(settings)
	assert.Equal(t, 1, s.PermanentEntries())

	s.StopPermanentService()
	assert.Equal(t, -1, s.PermanentEntries())
	s.StopPermanentService()
}

func TestManagerDrivesScheduler(t *testing.T) {
	s := newTestScheduler(t, newCountingRunner())
	s.Start()
	mgr := polling.NewManager(s)

	settings := polling.DefaultSettings()
	settings.TomorrowForecastEnabled = true
	mgr.ResetAllBackgroundTask(settings, false)
	assert.True(t, s.Scheduled(TagPolling))
	assert.False(t, s.Scheduled(TagTodayForecast))
	assert.True(t, s.Scheduled(TagTomorrowForecast))
	assert.Equal(t, -1, s.PermanentEntries())

	settings.BackgroundFree = false
	mgr.ResetAllBackgroundTask(settings, false)
	assert.False(t, s.Scheduled(TagPolling))
	assert.False(t, s.Scheduled(TagTomorrowForecast))
	assert.Equal(t, 2, s.PermanentEntries())
}
