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

const (
	openMeteoLocalLayout = "2006-01-02T15:04"
	openMeteoHourlySteps = 48
)

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
type OpenMeteoProvider struct {
	name    string
	opts    options
	httpCfg httpclient.Config
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client, opts ...Option) *OpenMeteoProvider {
	o := buildOptions("https://api.open-meteo.com/v1/forecast", opts)
	if o.airQualityURL == "" {
		o.airQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		opts:    o,
		httpCfg: o.httpConfig(client),
		circuit: httpclient.NewBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

type openMeteoPayload struct {
	UTCOffsetSeconds int    `json:"utc_offset_seconds"`
	Timezone         string `json:"timezone"`
	Current          struct {
		Time                string  `json:"time"`
		Temperature         float64 `json:"temperature_2m"`
		RelativeHumidity    float64 `json:"relative_humidity_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		IsDay               int     `json:"is_day"`
		Precipitation       float64 `json:"precipitation"`
		WeatherCode         int     `json:"weather_code"`
		SurfacePressure     float64 `json:"surface_pressure"`
		WindSpeed           float64 `json:"wind_speed_10m"`
		WindDirection       float64 `json:"wind_direction_10m"`
		UVIndex             float64 `json:"uv_index"`
	} `json:"current"`
	Hourly struct {
		Time                     []string  `json:"time"`
		Temperature              []float64 `json:"temperature_2m"`
		WeatherCode              []int     `json:"weather_code"`
		PrecipitationProbability []float64 `json:"precipitation_probability"`
	} `json:"hourly"`
	Daily struct {
		Time                        []string  `json:"time"`
		WeatherCode                 []int     `json:"weather_code"`
		TemperatureMax              []float64 `json:"temperature_2m_max"`
		TemperatureMin              []float64 `json:"temperature_2m_min"`
		Sunrise                     []string  `json:"sunrise"`
		Sunset                      []string  `json:"sunset"`
		PrecipitationProbabilityMax []float64 `json:"precipitation_probability_max"`
	} `json:"daily"`
	Minutely15 struct {
		Time          []string  `json:"time"`
		Precipitation []float64 `json:"precipitation"`
	} `json:"minutely_15"`
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc *weather.Location) (*weather.Weather, error) {
	if !loc.IsUsable() {
		return nil, fmt.Errorf("openmeteo requires latitude and longitude")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", loc.Latitude))
		values.Set("longitude", fmt.Sprintf("%f", loc.Longitude))
		values.Set("current", "temperature_2m,relative_humidity_2m,apparent_temperature,is_day,precipitation,weather_code,surface_pressure,wind_speed_10m,wind_direction_10m,uv_index")
		values.Set("hourly", "temperature_2m,weather_code,precipitation_probability")
		values.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,sunrise,sunset,precipitation_probability_max")
		values.Set("minutely_15", "precipitation")
		values.Set("wind_speed_unit", "ms")
		values.Set("timezone", "auto")
		values.Set("forecast_days", "7")

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

	var payload openMeteoPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode openmeteo response: %w", err)
	}

	w := mapOpenMeteo(payload)

	aq, pollen, err := p.fetchAirQuality(ctx, loc)
	if err != nil {
		// Air quality is optional; the forecast stands on its own.
		p.opts.log.Warnw("openmeteo air quality failed", "location", loc.FormattedID(), "error", err)
	} else {
		w.AirQuality = aq
		w.Pollen = pollen
	}
	return w, nil
}

func mapOpenMeteo(payload openMeteoPayload) *weather.Weather {
	zone := time.FixedZone(payload.Timezone, payload.UTCOffsetSeconds)
	w := &weather.Weather{}

	if ts, ok := parseLocalTime(openMeteoLocalLayout, payload.Current.Time, zone); ok {
		w.Base.Timestamp = ts.UTC()
	}

	c := payload.Current
	w.Current = weather.Current{
		Condition:        mapOpenMeteoCondition(c.WeatherCode),
		TemperatureC:     c.Temperature,
		FeelsLikeC:       c.ApparentTemperature,
		HumidityPct:      c.RelativeHumidity,
		WindSpeedMS:      c.WindSpeed,
		WindDirectionDeg: c.WindDirection,
		PressureHpa:      c.SurfacePressure,
		PrecipMm:         c.Precipitation,
		UVIndex:          c.UVIndex,
		IsDay:            c.IsDay == 1,
	}

	h := payload.Hourly
	for i, raw := range h.Time {
		if len(w.Hourly) >= openMeteoHourlySteps {
			break
		}
		ts, ok := parseLocalTime(openMeteoLocalLayout, raw, zone)
		if !ok || (!w.Base.Timestamp.IsZero() && ts.Before(w.Base.Timestamp.Truncate(time.Hour))) {
			continue
		}
		w.Hourly = append(w.Hourly, weather.Hourly{
			Time:                 ts.UTC(),
			Condition:            mapOpenMeteoCondition(intAt(h.WeatherCode, i)),
			TemperatureC:         floatAt(h.Temperature, i),
			PrecipProbabilityPct: floatAt(h.PrecipitationProbability, i),
		})
	}

	d := payload.Daily
	for i, date := range d.Time {
		day := weather.Daily{
			Date:                 date,
			Condition:            mapOpenMeteoCondition(intAt(d.WeatherCode, i)),
			MaxC:                 floatAt(d.TemperatureMax, i),
			MinC:                 floatAt(d.TemperatureMin, i),
			PrecipProbabilityPct: floatAt(d.PrecipitationProbabilityMax, i),
		}
		if i < len(d.Sunrise) {
			if ts, ok := parseLocalTime(openMeteoLocalLayout, d.Sunrise[i], zone); ok {
				day.Astro.Sunrise = ts.UTC()
			}
		}
		if i < len(d.Sunset) {
			if ts, ok := parseLocalTime(openMeteoLocalLayout, d.Sunset[i], zone); ok {
				day.Astro.Sunset = ts.UTC()
			}
		}
		w.Daily = append(w.Daily, day)
	}

	m := payload.Minutely15
	for i, raw := range m.Time {
		ts, ok := parseLocalTime(openMeteoLocalLayout, raw, zone)
		if !ok {
			continue
		}
		w.Minutely = append(w.Minutely, weather.Minutely{Time: ts.UTC(), PrecipMm: floatAt(m.Precipitation, i)})
	}

	return w
}

func (p *OpenMeteoProvider) fetchAirQuality(ctx context.Context, loc *weather.Location) (*weather.AirQuality, *weather.Pollen, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", loc.Latitude))
		values.Set("longitude", fmt.Sprintf("%f", loc.Longitude))
		values.Set("current", "pm10,pm2_5,ozone,nitrogen_dioxide,us_aqi,alder_pollen,birch_pollen,grass_pollen,ragweed_pollen")

		u := fmt.Sprintf("%s?%s", p.opts.airQualityURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		p.opts.decorate(req)
		return req, nil
	}

	resp, err := httpclient.Do(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			PM10    float64  `json:"pm10"`
			PM25    float64  `json:"pm2_5"`
			Ozone   float64  `json:"ozone"`
			NO2     float64  `json:"nitrogen_dioxide"`
			USAQI   int      `json:"us_aqi"`
			Alder   *float64 `json:"alder_pollen"`
			Birch   *float64 `json:"birch_pollen"`
			Grass   *float64 `json:"grass_pollen"`
			Ragweed *float64 `json:"ragweed_pollen"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("decode openmeteo air quality: %w", err)
	}

	c := payload.Current
	aq := &weather.AirQuality{PM25: c.PM25, PM10: c.PM10, O3: c.Ozone, NO2: c.NO2, EPAIndex: c.USAQI}

	// Pollen is only modelled for Europe; elsewhere every field is null.
	var pollen *weather.Pollen
	if c.Alder != nil || c.Birch != nil || c.Grass != nil || c.Ragweed != nil {
		pollen = &weather.Pollen{
			Alder:   deref(c.Alder),
			Birch:   deref(c.Birch),
			Grass:   deref(c.Grass),
			Ragweed: deref(c.Ragweed),
		}
	}
	return aq, pollen, nil
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// Mapping based on WMO weather interpretation codes.
	switch {
	case code == 0:
		return weather.ConditionClear
	case code == 1 || code == 2:
		return weather.ConditionPartlyCloudy
	case code == 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionFog
	case code == 56 || code == 57 || code == 66 || code == 67:
		return weather.ConditionSleet
	case (code >= 51 && code <= 65) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code == 95:
		return weather.ConditionStorm
	case code == 96 || code == 99:
		return weather.ConditionHail
	default:
		return weather.ConditionUnknown
	}
}

func floatAt(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func intAt(values []int, i int) int {
	if i < len(values) {
		return values[i]
	}
	return -1
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
