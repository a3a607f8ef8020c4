package store

import (
	"context"
	"sort"
	"sync"

	"github.com/i474232898/weather-polling/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of a weather store.
type MemoryStore struct {
	mu sync.RWMutex

	locations []*weather.Location
	// key: formatted id
	weather map[string]*weather.Weather
	// key: formatted id, value: records sorted by date
	history map[string][]weather.History

	// retention configuration
	maxHistory int // max number of history days per location
}

var _ weather.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
// If maxHistory is <= 0, history is kept without limit.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		weather:    make(map[string]*weather.Weather),
		history:    make(map[string][]weather.History),
		maxHistory: maxHistory,
	}
}

func (s *MemoryStore) ReadLocationList(_ context.Context) ([]*weather.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return detachAll(s.locations), nil
}

func (s *MemoryStore) WriteLocationList(_ context.Context, list []*weather.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = detachAll(list)
	return nil
}

func (s *MemoryStore) WriteLocation(_ context.Context, loc *weather.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.locations, loc.FormattedID()); i >= 0 {
		s.locations[i] = detach(loc)
		return nil
	}
	s.locations = append(s.locations, detach(loc))
	return nil
}

func (s *MemoryStore) DeleteLocation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.locations, id)
	if i < 0 {
		return weather.ErrNotFound
	}
	s.locations = append(s.locations[:i], s.locations[i+1:]...)
	delete(s.weather, id)
	delete(s.history, id)
	return nil
}

func (s *MemoryStore) ReadWeather(_ context.Context, loc *weather.Location) (*weather.Weather, error) {
	key := loc.FormattedID()

	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.weather[key]
	if !ok {
		return nil, weather.ErrNotFound
	}
	out := *w
	if date, ok := yesterdayDate(loc, w); ok {
		if h, ok := s.findHistory(key, date); ok {
			out.Yesterday = &h
		}
	}
	return &out, nil
}

// WriteWeather stores the snapshot and merges today's record into the history,
// enforcing retention by count.
func (s *MemoryStore) WriteWeather(_ context.Context, loc *weather.Location, w *weather.Weather) error {
	key := loc.FormattedID()
	today := w.TodayHistory(loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.weather[key] = snapshot(w)

	records := s.history[key]
	i := sort.Search(len(records), func(i int) bool { return records[i].Date >= today.Date })
	switch {
	case i < len(records) && records[i].Date == today.Date:
		records[i] = records[i].Merge(today)
	default:
		records = append(records, weather.History{})
		copy(records[i+1:], records[i:])
		records[i] = today
	}

	if s.maxHistory > 0 && len(records) > s.maxHistory {
		over := len(records) - s.maxHistory
		records = records[over:]
	}
	s.history[key] = records
	return nil
}

func (s *MemoryStore) ReadHistory(_ context.Context, loc *weather.Location, date string) (*weather.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.findHistory(loc.FormattedID(), date)
	if !ok {
		return nil, weather.ErrNotFound
	}
	return &h, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) findHistory(key, date string) (weather.History, bool) {
	for _, h := range s.history[key] {
		if h.Date == date {
			return h, true
		}
	}
	return weather.History{}, false
}
