package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/weather-polling/internal/httpclient"
	"github.com/i474232898/weather-polling/internal/weather"
)

const metNoHourlySteps = 24

// MetNoProvider implements the weather.Provider interface for the
// Norwegian Meteorological Institute locationforecast API.
type MetNoProvider struct {
	name    string
	opts    options
	httpCfg httpclient.Config
	circuit *gobreaker.CircuitBreaker
}

// NewMetNoProvider builds a Met.no client. The terms of service require an
// identifying User-Agent and cap clients at 20 requests per second.
func NewMetNoProvider(client *http.Client, userAgent string, opts ...Option) *MetNoProvider {
	defaults := []Option{
		WithUserAgent(userAgent),
		WithLimiter(rate.NewLimiter(rate.Limit(20), 5)),
	}
	o := buildOptions("https://api.met.no/weatherapi/locationforecast/2.0/compact", append(defaults, opts...))
	return &MetNoProvider{
		name:    "metno",
		opts:    o,
		httpCfg: o.httpConfig(client),
		circuit: httpclient.NewBreaker("metno"),
	}
}

func (p *MetNoProvider) Name() string {
	return p.name
}

type metNoStep struct {
	Time time.Time `json:"time"`
	Data struct {
		Instant struct {
			Details struct {
				AirPressureAtSeaLevel float64 `json:"air_pressure_at_sea_level"`
				AirTemperature        float64 `json:"air_temperature"`
				RelativeHumidity      float64 `json:"relative_humidity"`
				WindFromDirection     float64 `json:"wind_from_direction"`
				WindSpeed             float64 `json:"wind_speed"`
			} `json:"details"`
		} `json:"instant"`
		Next1Hours *metNoPeriod `json:"next_1_hours"`
		Next6Hours *metNoPeriod `json:"next_6_hours"`
	} `json:"data"`
}

type metNoPeriod struct {
	Summary struct {
		SymbolCode string `json:"symbol_code"`
	} `json:"summary"`
	Details struct {
		PrecipitationAmount float64 `json:"precipitation_amount"`
	} `json:"details"`
}

func (s metNoStep) period() *metNoPeriod {
	if s.Data.Next1Hours != nil {
		return s.Data.Next1Hours
	}
	return s.Data.Next6Hours
}

func (p *MetNoProvider) Fetch(ctx context.Context, loc *weather.Location) (*weather.Weather, error) {
	if !loc.IsUsable() {
		return nil, fmt.Errorf("metno requires latitude and longitude")
	}
	if p.opts.userAgent == "" {
		return nil, fmt.Errorf("metno user agent is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		// Met.no asks for at most four decimals so responses can be cached.
		values.Set("lat", fmt.Sprintf("%.4f", loc.Latitude))
		values.Set("lon", fmt.Sprintf("%.4f", loc.Longitude))

		u := fmt.Sprintf("%s?%s", p.opts.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		p.opts.decorate(req)
		return req, nil
	}

	resp, err := httpclient.Do(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Properties struct {
			Meta struct {
				UpdatedAt time.Time `json:"updated_at"`
			} `json:"meta"`
			Timeseries []metNoStep `json:"timeseries"`
		} `json:"properties"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode metno response: %w", err)
	}

	series := payload.Properties.Timeseries
	if len(series) == 0 {
		return nil, fmt.Errorf("metno returned no timeseries")
	}

	w := &weather.Weather{Base: weather.Base{Timestamp: payload.Properties.Meta.UpdatedAt.UTC()}}

	first := series[0]
	details := first.Data.Instant.Details
	w.Current = weather.Current{
		TemperatureC:     details.AirTemperature,
		FeelsLikeC:       details.AirTemperature,
		HumidityPct:      details.RelativeHumidity,
		WindSpeedMS:      details.WindSpeed,
		WindDirectionDeg: details.WindFromDirection,
		PressureHpa:      details.AirPressureAtSeaLevel,
		Condition:        weather.ConditionUnknown,
		IsDay:            true,
	}
	if period := first.period(); period != nil {
		symbol := period.Summary.SymbolCode
		w.Current.Condition = mapMetNoSymbol(symbol)
		w.Current.Text = symbol
		w.Current.PrecipMm = period.Details.PrecipitationAmount
		w.Current.IsDay = !strings.HasSuffix(symbol, "_night")
	}

	steps := make([]weather.Hourly, 0, len(series))
	for _, s := range series {
		h := weather.Hourly{
			Time:         s.Time.UTC(),
			TemperatureC: s.Data.Instant.Details.AirTemperature,
			Condition:    weather.ConditionUnknown,
		}
		if period := s.period(); period != nil {
			h.Condition = mapMetNoSymbol(period.Summary.SymbolCode)
		}
		steps = append(steps, h)
	}

	if len(steps) > metNoHourlySteps {
		w.Hourly = steps[:metNoHourlySteps]
	} else {
		w.Hourly = steps
	}
	w.Daily = weather.AggregateDaily(steps, loc.Zone())
	return w, nil
}

func mapMetNoSymbol(symbol string) weather.Condition {
	switch {
	case symbol == "":
		return weather.ConditionUnknown
	case contains(symbol, "thunder"):
		return weather.ConditionStorm
	case contains(symbol, "sleet"):
		return weather.ConditionSleet
	case contains(symbol, "snow"):
		return weather.ConditionSnow
	case contains(symbol, "rain"):
		return weather.ConditionRain
	case contains(symbol, "fog"):
		return weather.ConditionFog
	case contains(symbol, "partlycloudy") || contains(symbol, "fair"):
		return weather.ConditionPartlyCloudy
	case contains(symbol, "cloudy"):
		return weather.ConditionCloudy
	case contains(symbol, "clearsky"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
