// Package polling refreshes the weather of the location list and decides which
// background triggers keep doing so.
package polling

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/i474232898/weather-polling/internal/broadcast"
	"github.com/i474232898/weather-polling/internal/weather"
)

// DefaultRefreshInterval is used when Options.RefreshInterval is unset.
const DefaultRefreshInterval = 90 * time.Minute

// LocationResolver locates the device for the current-position entry.
// location.Resolver satisfies it.
type LocationResolver interface {
	Resolve(ctx context.Context) (*weather.Fix, error)
}

// WeatherFetcher fetches weather for one location. weather.Service satisfies it.
type WeatherFetcher interface {
	RequestWeather(ctx context.Context, loc *weather.Location) (*weather.Weather, error)
}

// Result is the outcome of one list entry.
type Result struct {
	Location *weather.Location
	// Previous is the snapshot cached before this pass, nil if none.
	Previous *weather.Weather
	Succeed  bool
	Index    int
	Total    int
}

// Listener receives per-entry results in list order, then one completion call.
type Listener interface {
	OnItemDone(Result)
	OnAllDone()
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	ItemDone func(Result)
	AllDone  func()
}

func (f ListenerFuncs) OnItemDone(r Result) {
	if f.ItemDone != nil {
		f.ItemDone(r)
	}
}

func (f ListenerFuncs) OnAllDone() {
	if f.AllDone != nil {
		f.AllDone()
	}
}

// Options configures an Updater.
type Options struct {
	// RefreshInterval is the configured polling interval. Cached weather younger
	// than a quarter of it is reused without a network call.
	RefreshInterval time.Duration
	Clock           func() time.Time
	Logger          *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// FreshnessWindow is the age under which cached weather is reused.
func (o Options) FreshnessWindow() time.Duration {
	return o.withDefaults().RefreshInterval / 4
}

// Updater walks a location list once, refreshing entries one at a time.
type Updater struct {
	store    weather.Store
	resolver LocationResolver
	fetcher  WeatherFetcher
	bus      broadcast.Broadcaster
	listener Listener
	opts     Options
	log      *zap.SugaredLogger

	cancelled atomic.Bool
	mu        sync.Mutex
	stop      context.CancelFunc
}

// state is the position of a pass: the entry being processed and whether the
// device has already been located for it.
type state struct {
	index   int
	located bool
}

func NewUpdater(
	store weather.Store,
	resolver LocationResolver,
	fetcher WeatherFetcher,
	bus broadcast.Broadcaster,
	listener Listener,
	opts Options,
) *Updater {
	opts = opts.withDefaults()
	if bus == nil {
		bus = broadcast.Nop{}
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}
	return &Updater{
		store:    store,
		resolver: resolver,
		fetcher:  fetcher,
		bus:      bus,
		listener: listener,
		opts:     opts,
		log:      opts.Logger,
	}
}

// Update runs a full pass over list and returns when it is done or cancelled.
// Entries of list are updated in place.
func (u *Updater) Update(ctx context.Context, list []*weather.Location) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	u.mu.Lock()
	u.stop = stop
	u.mu.Unlock()

	st := state{}
	for st.index < len(list) {
		if u.isCancelled() {
			return
		}
		st = u.step(ctx, list, st)
	}
	if u.isCancelled() {
		return
	}
	u.listener.OnAllDone()
}

// Start runs Update in its own goroutine. The returned channel is closed when
// the pass ends.
func (u *Updater) Start(ctx context.Context, list []*weather.Location) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.Update(ctx, list)
	}()
	return done
}

// Cancel aborts the in-flight requests. No listener call happens afterwards.
func (u *Updater) Cancel() {
	u.cancelled.Store(true)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stop != nil {
		u.stop()
	}
}

// isCancelled reports whether Cancel was called. An expired caller context is
// not a cancellation: the remaining entries fail through the normal path.
func (u *Updater) isCancelled() bool {
	return u.cancelled.Load()
}

// step processes list[st.index] and returns the next state. A successful
// location fix re-enters the same index with located set.
func (u *Updater) step(ctx context.Context, list []*weather.Location, st state) state {
	loc := list[st.index]
	next := state{index: st.index + 1}

	prev, err := u.store.ReadWeather(ctx, loc)
	if err != nil {
		if !errors.Is(err, weather.ErrNotFound) {
			u.log.Warnw("read cached weather failed", "location", loc.FormattedID(), "error", err)
		}
		prev = nil
	}

	if prev.IsValid(u.opts.FreshnessWindow(), u.opts.Clock()) {
		loc.Weather = prev
		u.log.Debugw("cached weather is fresh", "location", loc.FormattedID(), "index", st.index)
		u.done(list, st.index, prev, true)
		return next
	}

	if loc.CurrentPosition && !st.located {
		fix, err := u.locate(ctx)
		if u.isCancelled() {
			return st
		}
		if err == nil && fix.Usable() {
			loc.Apply(*fix)
			return state{index: st.index, located: true}
		}
		u.log.Warnw("locate device failed", "index", st.index, "error", err)
		if !loc.IsUsable() {
			loc.Weather = prev
			u.persistLocation(ctx, loc)
			u.done(list, st.index, prev, false)
			return next
		}
		// fall back to the prior fix
	}

	u.fetch(ctx, list, st.index, prev)
	return next
}

func (u *Updater) locate(ctx context.Context) (*weather.Fix, error) {
	if u.resolver == nil {
		return nil, errors.New("no location resolver configured")
	}
	return u.resolver.Resolve(ctx)
}

func (u *Updater) fetch(ctx context.Context, list []*weather.Location, index int, prev *weather.Weather) {
	loc := list[index]

	w, err := u.fetcher.RequestWeather(ctx, loc)
	if u.isCancelled() {
		return
	}

	switch {
	case err != nil:
		u.log.Warnw("weather request failed", "location", loc.FormattedID(), "index", index, "error", err)
	case w == nil:
		u.log.Warnw("weather request returned nothing", "location", loc.FormattedID(), "index", index)
	case prev != nil && w.Base.Timestamp.Equal(prev.Base.Timestamp):
		// An unchanged provider timestamp means the payload is not new data.
		u.log.Infow("weather unchanged since last fetch", "location", loc.FormattedID(), "index", index)
	default:
		loc.Weather = w
		if err := u.store.WriteWeather(ctx, loc, w); err != nil {
			u.log.Errorw("write weather failed", "location", loc.FormattedID(), "error", err)
		}
		u.persistLocation(ctx, loc)
		ev := broadcast.NewEvent(broadcast.KindWeatherUpdated, loc, w, u.opts.Clock())
		if err := u.bus.Publish(ctx, ev); err != nil {
			u.log.Warnw("broadcast weather update failed", "location", loc.FormattedID(), "error", err)
		}
		u.done(list, index, prev, true)
		return
	}

	// The previous snapshot stays attached for display.
	loc.Weather = prev
	u.persistLocation(ctx, loc)
	u.done(list, index, prev, false)
}

func (u *Updater) persistLocation(ctx context.Context, loc *weather.Location) {
	if err := u.store.WriteLocation(ctx, loc); err != nil {
		u.log.Errorw("write location failed", "location", loc.FormattedID(), "error", err)
	}
}

func (u *Updater) done(list []*weather.Location, index int, prev *weather.Weather, succeed bool) {
	if u.cancelled.Load() {
		return
	}
	u.listener.OnItemDone(Result{
		Location: list[index],
		Previous: prev,
		Succeed:  succeed,
		Index:    index,
		Total:    len(list),
	})
}
