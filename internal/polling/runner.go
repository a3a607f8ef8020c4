package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/i474232898/weather-polling/internal/broadcast"
	"github.com/i474232898/weather-polling/internal/weather"
)

// ErrPassInFlight is returned when a pass is requested while another runs.
var ErrPassInFlight = errors.New("a refresh pass is already running")

// Summary describes one finished pass.
type Summary struct {
	PassID    uuid.UUID
	Total     int
	Succeeded int
	Results   []Result
	// Completed is false when the pass was cancelled.
	Completed bool
}

// Failed returns the formatted ids of the entries that did not refresh.
func (s Summary) Failed() []string {
	var ids []string
	for _, r := range s.Results {
		if !r.Succeed {
			ids = append(ids, r.Location.FormattedID())
		}
	}
	return ids
}

// Runner is the dispatch layer: it loads the stored list, runs one Updater
// pass over it and refuses overlapping passes.
type Runner struct {
	store    weather.Store
	resolver LocationResolver
	fetcher  WeatherFetcher
	bus      broadcast.Broadcaster
	opts     Options
	log      *zap.SugaredLogger

	busy    atomic.Bool
	mu      sync.Mutex
	current *Updater
}

func NewRunner(
	store weather.Store,
	resolver LocationResolver,
	fetcher WeatherFetcher,
	bus broadcast.Broadcaster,
	opts Options,
) *Runner {
	opts = opts.withDefaults()
	if bus == nil {
		bus = broadcast.Nop{}
	}
	return &Runner{
		store:    store,
		resolver: resolver,
		fetcher:  fetcher,
		bus:      bus,
		opts:     opts,
		log:      opts.Logger,
	}
}

// SetRefreshInterval changes the interval used to judge cached weather fresh
// for the next passes.
func (r *Runner) SetRefreshInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.opts.RefreshInterval = d
	}
}

// Poll refreshes every stored location.
func (r *Runner) Poll(ctx context.Context) (Summary, error) {
	summary, _, err := r.pass(ctx)
	return summary, err
}

// TodayForecast refreshes, then publishes today's forecast for the primary location.
func (r *Runner) TodayForecast(ctx context.Context) (Summary, error) {
	return r.forecast(ctx, broadcast.KindForecastToday, 0)
}

// TomorrowForecast refreshes, then publishes tomorrow's forecast for the primary location.
func (r *Runner) TomorrowForecast(ctx context.Context) (Summary, error) {
	return r.forecast(ctx, broadcast.KindForecastTomorrow, 1)
}

// Cancel stops the running pass, if any.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Cancel()
	}
}

// Running reports whether a pass is in flight.
func (r *Runner) Running() bool {
	return r.busy.Load()
}

func (r *Runner) forecast(ctx context.Context, kind broadcast.Kind, day int) (Summary, error) {
	summary, list, err := r.pass(ctx)
	if err != nil {
		return summary, err
	}
	if len(list) == 0 {
		return summary, nil
	}
	if !summary.Completed {
		r.log.Infow("pass cancelled, forecast not published", "kind", kind)
		return summary, nil
	}

	primary := list[0]
	if primary.Weather == nil || len(primary.Weather.Daily) <= day {
		r.log.Warnw("no forecast available", "kind", kind, "location", primary.FormattedID())
		return summary, nil
	}
	ev := broadcast.NewEvent(kind, primary, primary.Weather, r.opts.Clock())
	forecast := primary.Weather.Daily[day]
	ev.Forecast = &forecast
	if err := r.bus.Publish(ctx, ev); err != nil {
		r.log.Warnw("broadcast forecast failed", "kind", kind, "error", err)
	}
	return summary, nil
}

func (r *Runner) pass(ctx context.Context) (Summary, []*weather.Location, error) {
	if !r.busy.CAS(false, true) {
		return Summary{}, nil, ErrPassInFlight
	}
	defer r.busy.Store(false)

	list, err := r.store.ReadLocationList(ctx)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("read location list: %w", err)
	}

	summary := Summary{PassID: uuid.New(), Total: len(list)}
	log := r.log.With("pass", summary.PassID.String())
	listener := ListenerFuncs{
		ItemDone: func(res Result) {
			summary.Results = append(summary.Results, res)
			if res.Succeed {
				summary.Succeeded++
			}
			log.Infow("location refreshed",
				"index", res.Index,
				"total", res.Total,
				"location", res.Location.FormattedID(),
				"succeed", res.Succeed,
			)
		},
		AllDone: func() {
			summary.Completed = true
		},
	}

	r.mu.Lock()
	opts := r.opts
	opts.Logger = log
	u := NewUpdater(r.store, r.resolver, r.fetcher, r.bus, listener, opts)
	r.current = u
	r.mu.Unlock()

	log.Infow("refresh pass started", "locations", len(list))
	u.Update(ctx, list)

	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()

	log.Infow("refresh pass finished",
		"succeeded", summary.Succeeded,
		"total", summary.Total,
		"completed", summary.Completed,
	)
	return summary, list, nil
}
