package weather

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownProvider is returned when a location names a provider that is not registered.
var ErrUnknownProvider = errors.New("unknown weather provider")

// Service selects a provider per location and normalizes what it returns.
type Service struct {
	providers map[string]Provider
	fallback  string
	now       func() time.Time
	log       *zap.SugaredLogger
}

// NewService creates a new Service. The first provider is the default unless
// SetDefault is called.
func NewService(log *zap.SugaredLogger, providers ...Provider) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Service{
		providers: make(map[string]Provider, len(providers)),
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if s.fallback == "" {
			s.fallback = p.Name()
		}
		s.providers[p.Name()] = p
	}
	return s
}

// SetDefault changes the provider used for locations without a weather source.
func (s *Service) SetDefault(name string) error {
	if _, ok := s.providers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	s.fallback = name
	return nil
}

// Default returns the name of the default provider.
func (s *Service) Default() string {
	return s.fallback
}

// Providers returns the registered provider names, sorted.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestWeather fetches a fresh snapshot for loc from its provider.
func (s *Service) RequestWeather(ctx context.Context, loc *Location) (*Weather, error) {
	name := loc.WeatherSource
	if name == "" {
		name = s.fallback
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if !loc.IsUsable() && loc.City == "" {
		return nil, fmt.Errorf("location %s has neither coordinates nor a city", loc.FormattedID())
	}

	s.log.Debugw("requesting weather", "location", loc.FormattedID(), "provider", name)
	w, err := p.Fetch(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if w == nil {
		return nil, fmt.Errorf("%s: empty response", name)
	}

	w.Base.CityID = loc.FormattedID()
	w.Base.UpdateTime = s.now()
	if w.Base.Timestamp.IsZero() {
		w.Base.Timestamp = w.Base.UpdateTime
	}
	return w, nil
}
