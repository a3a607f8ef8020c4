package location

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
)

// FixSource provides raw device coordinates, the way a platform location
// manager would.
type FixSource interface {
	Fix(ctx context.Context) (lat, lon float64, err error)
}

// StaticFix is a fixed device position taken from configuration.
type StaticFix struct {
	Latitude  float64
	Longitude float64
}

func (s StaticFix) Fix(context.Context) (float64, float64, error) {
	return s.Latitude, s.Longitude, nil
}

// the geocoder package keeps its key in a package variable
var geocoderMu sync.Mutex

// GeocoderResolver reads the device coordinates from a FixSource and reverse
// geocodes them with the Google Geocoding API.
type GeocoderResolver struct {
	source  FixSource
	apiKey  string
	reverse func(geocoder.Location) ([]geocoder.Address, error)
}

func NewGeocoderResolver(source FixSource, apiKey string) *GeocoderResolver {
	return &GeocoderResolver{
		source:  source,
		apiKey:  apiKey,
		reverse: geocoder.GeocodingReverse,
	}
}

func (r *GeocoderResolver) Name() string {
	return "geocoder"
}

func (r *GeocoderResolver) Resolve(ctx context.Context) (*Result, error) {
	if r.source == nil {
		return nil, ErrNoFix
	}
	lat, lon, err := r.source.Fix(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFix, err)
	}

	res := &Result{Latitude: lat, Longitude: lon}
	if !res.Usable() {
		return nil, ErrNoFix
	}
	if r.apiKey == "" {
		// Coordinates alone are enough for the coordinate based providers.
		return res, nil
	}

	type reply struct {
		addrs []geocoder.Address
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		geocoderMu.Lock()
		defer geocoderMu.Unlock()
		geocoder.ApiKey = r.apiKey
		addrs, err := r.reverse(geocoder.Location{Latitude: lat, Longitude: lon})
		done <- reply{addrs: addrs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rep := <-done:
		if rep.err != nil {
			return nil, fmt.Errorf("reverse geocode: %w", rep.err)
		}
		if len(rep.addrs) > 0 {
			applyAddress(res, rep.addrs[0])
		}
		return res, nil
	}
}

func applyAddress(res *Result, addr geocoder.Address) {
	res.District = addr.District
	if res.District == "" {
		res.District = addr.Neighborhood
	}
	res.City = addr.City
	if res.City == "" {
		res.City = addr.County
	}
	res.Province = addr.State
	res.Country = addr.Country
	res.CountryCode = countryCodes[strings.ToLower(addr.Country)]
	res.InChina = isChina(res.CountryCode)
}

// countryCodes maps the English country names Google returns for the
// Greater China region to ISO codes. geocoder.Address carries no code.
var countryCodes = map[string]string{
	"china":     "CN",
	"hong kong": "HK",
	"macao":     "MO",
	"macau":     "MO",
	"taiwan":    "TW",
}
