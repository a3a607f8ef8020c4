package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weather-polling/internal/broadcast"
	"github.com/i474232898/weather-polling/internal/store"
	"github.com/i474232898/weather-polling/internal/weather"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeResolver struct {
	mu    sync.Mutex
	fix   *weather.Fix
	err   error
	calls int
}

func (r *fakeResolver) Resolve(context.Context) (*weather.Fix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.fix, r.err
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	coords [][2]float64
	fn     func(ctx context.Context, loc *weather.Location) (*weather.Weather, error)
}

func (f *fakeFetcher) RequestWeather(ctx context.Context, loc *weather.Location) (*weather.Weather, error) {
	f.mu.Lock()
	f.calls = append(f.calls, loc.FormattedID())
	f.coords = append(f.coords, [2]float64{loc.Latitude, loc.Longitude})
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return freshWeather(testNow), nil
	}
	return fn(ctx, loc)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func freshWeather(ts time.Time) *weather.Weather {
	return &weather.Weather{
		Base:    weather.Base{Timestamp: ts, UpdateTime: testNow},
		Current: weather.Current{TemperatureC: 21},
		Daily: []weather.Daily{
			{Date: "2024-06-01", MaxC: 24, MinC: 14},
			{Date: "2024-06-02", MaxC: 26, MinC: 15},
		},
	}
}

type recorder struct {
	mu      sync.Mutex
	results []Result
	allDone int
	onItem  func(Result)
}

func (r *recorder) OnItemDone(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	hook := r.onItem
	r.mu.Unlock()
	if hook != nil {
		hook(res)
	}
}

func (r *recorder) OnAllDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allDone++
}

func testOptions(t *testing.T) Options {
	return Options{
		RefreshInterval: 90 * time.Minute,
		Clock:           func() time.Time { return testNow },
		Logger:          zaptest.NewLogger(t).Sugar(),
	}
}

func city(id string, lat, lon float64) *weather.Location {
	return &weather.Location{CityID: id, Latitude: lat, Longitude: lon}
}

func TestUpdateVisitsEveryIndexInOrder(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		st := store.NewMemoryStore(0)
		fetcher := &fakeFetcher{fn: func(_ context.Context, loc *weather.Location) (*weather.Weather, error) {
			if loc.CityID == "c2" {
				return nil, errors.New("rate limited")
			}
			return freshWeather(testNow), nil
		}}
		rec := &recorder{}

		list := make([]*weather.Location, 0, n)
		for i := 0; i < n; i++ {
			list = append(list, city("c"+string(rune('0'+i)), 10+float64(i), 20))
		}

		NewUpdater(st, &fakeResolver{}, fetcher, nil, rec, testOptions(t)).Update(context.Background(), list)

		require.Len(t, rec.results, n)
		for i, res := range rec.results {
			assert.Equal(t, i, res.Index)
			assert.Equal(t, n, res.Total)
			assert.Equal(t, list[i], res.Location)
			assert.Equal(t, list[i].CityID != "c2", res.Succeed)
		}
		assert.Equal(t, 1, rec.allDone)
	}
}

func TestUpdateReusesFreshCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	loc := city("paris", 48.85, 2.35)

	cached := freshWeather(testNow.Add(-time.Hour))
	cached.Base.UpdateTime = testNow.Add(-10 * time.Minute)
	require.NoError(t, st.WriteWeather(ctx, loc, cached))

	fetcher := &fakeFetcher{}
	bus := broadcast.NewLocalBus(4)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	rec := &recorder{}

	NewUpdater(st, nil, fetcher, bus, rec, testOptions(t)).Update(ctx, []*weather.Location{loc})

	assert.Zero(t, fetcher.count())
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Succeed)
	require.NotNil(t, loc.Weather)
	assert.True(t, loc.Weather.Base.Timestamp.Equal(cached.Base.Timestamp))
	assert.Empty(t, events)
}

func TestUpdateRefetchesStaleCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	loc := city("paris", 48.85, 2.35)

	cached := freshWeather(testNow.Add(-2 * time.Hour))
	// A quarter of 90 minutes is 22m30s.
	cached.Base.UpdateTime = testNow.Add(-23 * time.Minute)
	require.NoError(t, st.WriteWeather(ctx, loc, cached))

	fetcher := &fakeFetcher{}
	bus := broadcast.NewLocalBus(4)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	rec := &recorder{}

	NewUpdater(st, nil, fetcher, bus, rec, testOptions(t)).Update(ctx, []*weather.Location{loc})

	assert.Equal(t, 1, fetcher.count())
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Succeed)
	assert.True(t, rec.results[0].Previous.Base.Timestamp.Equal(cached.Base.Timestamp))

	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, broadcast.KindWeatherUpdated, ev.Kind)
	assert.Equal(t, "paris", ev.LocationID)

	stored, err := st.ReadWeather(ctx, loc)
	require.NoError(t, err)
	assert.True(t, stored.Base.Timestamp.Equal(testNow))
}

func TestUpdateRefetchesCacheStampedInFuture(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	loc := city("paris", 48.85, 2.35)

	cached := freshWeather(testNow.Add(-time.Hour))
	cached.Base.UpdateTime = testNow.Add(48 * time.Hour)
	require.NoError(t, st.WriteWeather(ctx, loc, cached))

	fetcher := &fakeFetcher{}
	rec := &recorder{}
	NewUpdater(st, nil, fetcher, nil, rec, testOptions(t)).Update(ctx, []*weather.Location{loc})

	assert.Equal(t, 1, fetcher.count())
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Succeed)
}

func TestUpdateUnchangedTimestampIsFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	loc := city("oslo", 59.91, 10.75)

	providerTS := testNow.Add(-3 * time.Hour)
	cached := freshWeather(providerTS)
	cached.Base.UpdateTime = testNow.Add(-time.Hour)
	cached.Current.TemperatureC = 5
	require.NoError(t, st.WriteWeather(ctx, loc, cached))

	fetcher := &fakeFetcher{fn: func(context.Context, *weather.Location) (*weather.Weather, error) {
		w := freshWeather(providerTS)
		w.Current.TemperatureC = 30
		return w, nil
	}}
	bus := broadcast.NewLocalBus(4)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	rec := &recorder{}

	NewUpdater(st, nil, fetcher, bus, rec, testOptions(t)).Update(ctx, []*weather.Location{loc})

	assert.Equal(t, 1, fetcher.count())
	require.Len(t, rec.results, 1)
	assert.False(t, rec.results[0].Succeed)
	assert.Equal(t, 5.0, loc.Weather.Current.TemperatureC, "previous weather stays attached")
	assert.Empty(t, events)

	stored, err := st.ReadWeather(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, 5.0, stored.Current.TemperatureC)
}

func TestUpdateFailureKeepsPreviousWeather(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	loc := city("rome", 41.9, 12.5)

	cached := freshWeather(testNow.Add(-5 * time.Hour))
	cached.Base.UpdateTime = testNow.Add(-5 * time.Hour)
	require.NoError(t, st.WriteWeather(ctx, loc, cached))

	fetcher := &fakeFetcher{fn: func(context.Context, *weather.Location) (*weather.Weather, error) {
		return nil, errors.New("timeout")
	}}
	rec := &recorder{}

	NewUpdater(st, nil, fetcher, nil, rec, testOptions(t)).Update(ctx, []*weather.Location{loc})

	require.Len(t, rec.results, 1)
	assert.False(t, rec.results[0].Succeed)
	require.NotNil(t, loc.Weather)
	assert.True(t, loc.Weather.Base.Timestamp.Equal(cached.Base.Timestamp))
	assert.Equal(t, 1, rec.allDone)

	list, err := st.ReadLocationList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "rome", list[0].FormattedID())
}

func TestUpdateCurrentPositionLocatesOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	current := &weather.Location{CurrentPosition: true}

	resolver := &fakeResolver{fix: &weather.Fix{City: "Lyon", Country: "France", CountryCode: "FR", Latitude: 45.76, Longitude: 4.83}}
	fetcher := &fakeFetcher{}
	rec := &recorder{}

	NewUpdater(st, resolver, fetcher, nil, rec, testOptions(t)).Update(ctx, []*weather.Location{current})

	assert.Equal(t, 1, resolver.calls)
	require.Equal(t, 1, fetcher.count())
	assert.Equal(t, [2]float64{45.76, 4.83}, fetcher.coords[0])
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Succeed)
	assert.Equal(t, "Lyon", current.City)
	assert.Equal(t, weather.CurrentPositionID, current.FormattedID())
}

func TestUpdateLocationFailureWithoutPriorFix(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	current := &weather.Location{CurrentPosition: true}
	other := city("paris", 48.85, 2.35)

	resolver := &fakeResolver{err: errors.New("permission denied")}
	fetcher := &fakeFetcher{}
	rec := &recorder{}

	NewUpdater(st, resolver, fetcher, nil, rec, testOptions(t)).Update(ctx, []*weather.Location{current, other})

	assert.Equal(t, []string{"paris"}, fetcher.calls, "no weather request for an unlocated entry")
	require.Len(t, rec.results, 2)
	assert.False(t, rec.results[0].Succeed)
	assert.True(t, rec.results[1].Succeed)
	assert.Equal(t, 1, rec.allDone)
}

func TestUpdateLocationFailureUsesPriorFix(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	current := &weather.Location{CurrentPosition: true, Latitude: 52.52, Longitude: 13.40, City: "Berlin"}

	resolver := &fakeResolver{err: errors.New("gps timeout")}
	fetcher := &fakeFetcher{}
	rec := &recorder{}

	NewUpdater(st, resolver, fetcher, nil, rec, testOptions(t)).Update(ctx, []*weather.Location{current})

	assert.Equal(t, 1, resolver.calls)
	require.Equal(t, 1, fetcher.count())
	assert.Equal(t, [2]float64{52.52, 13.40}, fetcher.coords[0])
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Succeed)
}

func TestUpdateUnusableFixIsLocationFailure(t *testing.T) {
	resolver := &fakeResolver{fix: &weather.Fix{City: "Null Island"}}
	fetcher := &fakeFetcher{}
	rec := &recorder{}

	current := &weather.Location{CurrentPosition: true}
	NewUpdater(store.NewMemoryStore(0), resolver, fetcher, nil, rec, testOptions(t)).
		Update(context.Background(), []*weather.Location{current})

	assert.Zero(t, fetcher.count())
	require.Len(t, rec.results, 1)
	assert.False(t, rec.results[0].Succeed)
}

func TestCancelBetweenItemsStopsCallbacks(t *testing.T) {
	fetcher := &fakeFetcher{}
	rec := &recorder{}
	u := NewUpdater(store.NewMemoryStore(0), nil, fetcher, nil, rec, testOptions(t))
	rec.onItem = func(res Result) {
		if res.Index == 0 {
			u.Cancel()
		}
	}

	list := []*weather.Location{city("a", 1, 1), city("b", 2, 2), city("c", 3, 3)}
	u.Update(context.Background(), list)

	assert.Len(t, rec.results, 1)
	assert.Zero(t, rec.allDone)
	assert.Equal(t, 1, fetcher.count())
}

func TestCancelAbortsInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(ctx context.Context, _ *weather.Location) (*weather.Weather, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := &recorder{}
	u := NewUpdater(store.NewMemoryStore(0), nil, fetcher, nil, rec, testOptions(t))

	done := u.Start(context.Background(), []*weather.Location{city("a", 1, 1), city("b", 2, 2)})
	<-started
	u.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not stop after cancel")
	}
	assert.Empty(t, rec.results)
	assert.Zero(t, rec.allDone)
}

func TestExpiredContextFailsRemainingItems(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(ctx context.Context, _ *weather.Location) (*weather.Weather, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := &recorder{}
	u := NewUpdater(store.NewMemoryStore(0), nil, fetcher, nil, rec, testOptions(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	list := []*weather.Location{city("a", 1, 1), city("b", 2, 2), city("c", 3, 3)}
	u.Update(ctx, list)

	require.Len(t, rec.results, 3)
	for i, res := range rec.results {
		assert.Equal(t, i, res.Index)
		assert.False(t, res.Succeed)
	}
	assert.Equal(t, 1, rec.allDone)
}

func TestNilListenerCompletes(t *testing.T) {
	fetcher := &fakeFetcher{}
	u := NewUpdater(store.NewMemoryStore(0), nil, fetcher, nil, nil, Options{})
	u.Update(context.Background(), []*weather.Location{city("a", 1, 1)})
	assert.Equal(t, 1, fetcher.count())
}

func TestFreshnessWindow(t *testing.T) {
	assert.Equal(t, 30*time.Minute, Options{RefreshInterval: 2 * time.Hour}.FreshnessWindow())
	assert.Equal(t, DefaultRefreshInterval/4, Options{}.FreshnessWindow())
}
