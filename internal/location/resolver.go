// Package location resolves the device position for the current-position
// entry of the location list.
package location

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/i474232898/weather-polling/internal/weather"
)

var (
	// ErrNoFix is returned when a resolver could not determine a position.
	ErrNoFix = errors.New("no location fix")
	// ErrUnknownResolver is returned by Registry.New for unregistered names.
	ErrUnknownResolver = errors.New("unknown location resolver")
)

// Result is a resolved device position.
type Result = weather.Fix

// Resolver abstracts one way of locating the device (IP lookup, vendor map SDK, ...).
// Cancelling ctx aborts an in-flight resolution.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context) (*Result, error)
}

// Factory builds a resolver on demand.
type Factory func() (Resolver, error)

// Registry is the strategy table from which one resolver is selected by configuration.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[strings.ToLower(name)] = f
}

// Names returns the registered resolver names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the resolver registered under name.
func (r *Registry) New(name string) (Resolver, error) {
	f, ok := r.factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolver, name)
	}
	return f()
}

// isChina reports whether a country code designates mainland China.
func isChina(countryCode string) bool {
	return strings.EqualFold(countryCode, "CN")
}
