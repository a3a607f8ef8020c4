package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-polling/internal/httpclient"
	"github.com/i474232898/weather-polling/internal/weather"
)

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	opts    options
	httpCfg httpclient.Config
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, opts ...Option) *OpenWeatherProvider {
	o := buildOptions("https://api.openweathermap.org/data/2.5", opts)
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		opts:    o,
		httpCfg: o.httpConfig(client),
		circuit: httpclient.NewBreaker("openweather"),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

type openWeatherCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

func (p *OpenWeatherProvider) query(loc *weather.Location, path string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")

		if loc.IsUsable() {
			values.Set("lat", fmt.Sprintf("%f", loc.Latitude))
			values.Set("lon", fmt.Sprintf("%f", loc.Longitude))
		} else {
			// city,country
			q := loc.City
			if loc.CountryCode != "" {
				q = fmt.Sprintf("%s,%s", loc.City, loc.CountryCode)
			}
			values.Set("q", q)
		}

		u := fmt.Sprintf("%s/%s?%s", p.opts.baseURL, path, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		p.opts.decorate(req)
		return req, nil
	}
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc *weather.Location) (*weather.Weather, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openweather api key is not configured")
	}

	resp, err := httpclient.Do(ctx, p.httpCfg, p.circuit, p.query(loc, "weather"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  float64 `json:"humidity"`
			Pressure  float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   float64 `json:"deg"`
		} `json:"wind"`
		Rain struct {
			OneH   float64 `json:"1h"`
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
		Sys struct {
			Sunrise int64 `json:"sunrise"`
			Sunset  int64 `json:"sunset"`
		} `json:"sys"`
		Weather []openWeatherCondition `json:"weather"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode openweather response: %w", err)
	}

	w := &weather.Weather{}
	if payload.Dt > 0 {
		w.Base.Timestamp = time.Unix(payload.Dt, 0).UTC()
	}

	precip := payload.Rain.OneH
	if precip == 0 {
		precip = payload.Rain.ThreeH
	}

	w.Current = weather.Current{
		Condition:        mapOpenWeatherCondition(payload.Weather),
		TemperatureC:     payload.Main.Temp,
		FeelsLikeC:       payload.Main.FeelsLike,
		HumidityPct:      payload.Main.Humidity,
		WindSpeedMS:      payload.Wind.Speed,
		WindDirectionDeg: payload.Wind.Deg,
		PressureHpa:      payload.Main.Pressure,
		PrecipMm:         precip,
		IsDay:            payload.Dt >= payload.Sys.Sunrise && payload.Dt < payload.Sys.Sunset,
	}
	if len(payload.Weather) > 0 {
		w.Current.Text = payload.Weather[0].Description
	}

	hourly, err := p.fetchForecast(ctx, loc)
	if err != nil {
		p.opts.log.Warnw("openweather forecast failed", "location", loc.FormattedID(), "error", err)
		return w, nil
	}
	w.Hourly = hourly
	w.Daily = weather.AggregateDaily(hourly, loc.Zone())
	if len(w.Daily) > 0 && payload.Sys.Sunrise > 0 {
		w.Daily[0].Astro = weather.Astro{
			Sunrise: time.Unix(payload.Sys.Sunrise, 0).UTC(),
			Sunset:  time.Unix(payload.Sys.Sunset, 0).UTC(),
		}
	}
	return w, nil
}

// fetchForecast reads the 5 day / 3 hour forecast.
func (p *OpenWeatherProvider) fetchForecast(ctx context.Context, loc *weather.Location) ([]weather.Hourly, error) {
	resp, err := httpclient.Do(ctx, p.httpCfg, p.circuit, p.query(loc, "forecast"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		List []struct {
			Dt   int64 `json:"dt"`
			Main struct {
				Temp float64 `json:"temp"`
			} `json:"main"`
			Pop     float64                `json:"pop"`
			Weather []openWeatherCondition `json:"weather"`
		} `json:"list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode openweather forecast: %w", err)
	}

	hourly := make([]weather.Hourly, 0, len(payload.List))
	for _, item := range payload.List {
		hourly = append(hourly, weather.Hourly{
			Time:                 time.Unix(item.Dt, 0).UTC(),
			Condition:            mapOpenWeatherCondition(item.Weather),
			TemperatureC:         item.Main.Temp,
			PrecipProbabilityPct: item.Pop * 100,
		})
	}
	return hourly, nil
}

func mapOpenWeatherCondition(items []openWeatherCondition) weather.Condition {
	if len(items) == 0 {
		return weather.ConditionUnknown
	}
	switch items[0].Main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		if contains(items[0].Description, "few") || contains(items[0].Description, "scattered") {
			return weather.ConditionPartlyCloudy
		}
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		if contains(items[0].Description, "sleet") {
			return weather.ConditionSleet
		}
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Fog":
		return weather.ConditionFog
	case "Mist", "Haze", "Smoke", "Dust":
		return weather.ConditionMist
	case "Squall", "Tornado":
		return weather.ConditionWind
	default:
		return weather.ConditionUnknown
	}
}
