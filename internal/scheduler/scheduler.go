// Package scheduler registers the background refresh triggers chosen by
// polling.Manager.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/i474232898/weather-polling/internal/polling"
)

const (
	TagPolling          = "polling"
	TagTodayForecast    = "today_forecast"
	TagTomorrowForecast = "tomorrow_forecast"
	TagForceRefresh     = "force_refresh"
)

// Runner is the work the triggers dispatch. *polling.Runner satisfies it.
type Runner interface {
	Poll(ctx context.Context) (polling.Summary, error)
	TodayForecast(ctx context.Context) (polling.Summary, error)
	TomorrowForecast(ctx context.Context) (polling.Summary, error)
}

// Scheduler implements polling.Triggers. Individual triggers are gocron jobs;
// the permanent service is a cron instance holding every enabled trigger.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	runner     Runner
	zone       *time.Location
	jobTimeout time.Duration
	now        func() time.Time
	log        *zap.SugaredLogger

	mu        sync.Mutex
	permanent *cron.Cron
}

var _ polling.Triggers = (*Scheduler)(nil)

// New creates a Scheduler firing in zone. A nil zone means time.Local.
func New(runner Runner, zone *time.Location, jobTimeout time.Duration, log *zap.SugaredLogger) *Scheduler {
	if zone == nil {
		zone = time.Local
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := gocron.NewScheduler(zone)
	s.SingletonModeAll()
	s.TagsUnique()
	return &Scheduler{
		scheduler:  s,
		runner:     runner,
		zone:       zone,
		jobTimeout: jobTimeout,
		now:        time.Now,
		log:        log,
	}
}

// Start starts the underlying scheduler.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and the permanent service, cancelling any future jobs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.StopPermanentService()
}

func (s *Scheduler) SchedulePolling(interval time.Duration) {
	if interval <= 0 {
		s.log.Warnw("scheduler: refusing non-positive polling interval", "interval", interval)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(TagPolling)
	_, err := s.scheduler.Every(interval).WaitForSchedule().Tag(TagPolling).Do(s.job(TagPolling, s.runner.Poll))
	s.logRegistration(TagPolling, err, "interval", interval)
}

func (s *Scheduler) CancelPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(TagPolling)
}

func (s *Scheduler) ScheduleTodayForecast(hhmm string, nextDay bool) {
	s.scheduleDaily(TagTodayForecast, hhmm, nextDay, s.runner.TodayForecast)
}

func (s *Scheduler) CancelTodayForecast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(TagTodayForecast)
}

func (s *Scheduler) ScheduleTomorrowForecast(hhmm string, nextDay bool) {
	s.scheduleDaily(TagTomorrowForecast, hhmm, nextDay, s.runner.TomorrowForecast)
}

func (s *Scheduler) CancelTomorrowForecast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(TagTomorrowForecast)
}

// ForceRefresh registers a one-shot job that runs as soon as the scheduler does.
func (s *Scheduler) ForceRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(TagForceRefresh)
	_, err := s.scheduler.Every(time.Hour).LimitRunsTo(1).Tag(TagForceRefresh).Do(s.job(TagForceRefresh, s.runner.Poll))
	s.logRegistration(TagForceRefresh, err)
}

// StartPermanentService replaces the permanent service with one holding the
// enabled triggers of settings.
func (s *Scheduler) StartPermanentService(settings polling.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopPermanent()

	c := cron.New(cron.WithLocation(s.zone))
	if settings.UpdateIntervalEnabled && settings.UpdateInterval > 0 {
		_, err := c.AddFunc("@every "+settings.UpdateInterval.String(), s.job(TagPolling, s.runner.Poll))
		s.logRegistration("permanent "+TagPolling, err)
	}
	if settings.TodayForecastEnabled {
		s.addDailyCron(c, TagTodayForecast, settings.TodayForecastTime, s.runner.TodayForecast)
	}
	if settings.TomorrowForecastEnabled {
		s.addDailyCron(c, TagTomorrowForecast, settings.TomorrowForecastTime, s.runner.TomorrowForecast)
	}
	c.Start()
	s.permanent = c
	s.log.Infow("scheduler: permanent service started", "entries", len(c.Entries()))
}

func (s *Scheduler) StopPermanentService() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPermanent()
}

// PermanentEntries returns the number of triggers the permanent service holds,
// or -1 when it is not running.
func (s *Scheduler) PermanentEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permanent == nil {
		return -1
	}
	return len(s.permanent.Entries())
}

// Scheduled reports whether a job with tag is registered.
func (s *Scheduler) Scheduled(tag string) bool {
	jobs, err := s.scheduler.FindJobsByTag(tag)
	return err == nil && len(jobs) > 0
}

func (s *Scheduler) stopPermanent() {
	if s.permanent == nil {
		return
	}
	s.permanent.Stop()
	s.permanent = nil
	s.log.Infow("scheduler: permanent service stopped")
}

func (s *Scheduler) scheduleDaily(tag, hhmm string, nextDay bool, fn func(context.Context) (polling.Summary, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(tag)
	first, err := polling.NextOccurrence(s.now(), hhmm, nextDay, s.zone)
	if err != nil {
		s.logRegistration(tag, err)
		return
	}
	_, err = s.scheduler.Every(24 * time.Hour).StartAt(first).Tag(tag).Do(s.job(tag, fn))
	s.logRegistration(tag, err, "first_run", first)
}

func (s *Scheduler) addDailyCron(c *cron.Cron, tag, hhmm string, fn func(context.Context) (polling.Summary, error)) {
	at, err := time.Parse("15:04", hhmm)
	if err != nil {
		s.logRegistration("permanent "+tag, fmt.Errorf("%w: %q", polling.ErrInvalidClock, hhmm))
		return
	}
	_, err = c.AddFunc(fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour()), s.job(tag, fn))
	s.logRegistration("permanent "+tag, err)
}

// remove drops the jobs registered under tag. Missing tags are not an error.
func (s *Scheduler) remove(tag string) {
	if !s.Scheduled(tag) {
		return
	}
	if err := s.scheduler.RemoveByTag(tag); err != nil {
		s.log.Warnw("scheduler: remove job failed", "tag", tag, "error", err)
	}
}

// job wraps a pass so it runs with a timeout and only logs its outcome.
func (s *Scheduler) job(name string, fn func(context.Context) (polling.Summary, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		s.log.Infow("scheduler: running job", "job", name)
		summary, err := fn(ctx)
		if err != nil {
			s.log.Warnw("scheduler: job failed", "job", name, "error", err)
			return
		}
		s.log.Infow("scheduler: completed job",
			"job", name,
			"succeeded", summary.Succeeded,
			"total", summary.Total,
		)
	}
}

// logRegistration records the outcome of a registration. Failures are never
// returned to the caller.
func (s *Scheduler) logRegistration(tag string, err error, kv ...any) {
	if err != nil {
		s.log.Errorw("scheduler: registration failed", append([]any{"job", tag, "error", err}, kv...)...)
		return
	}
	s.log.Debugw("scheduler: registered", append([]any{"job", tag}, kv...)...)
}
