package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-polling/internal/httpclient"
	"github.com/i474232898/weather-polling/internal/weather"
)

const weatherAPIAstroLayout = "2006-01-02 03:04 PM"

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	opts    options
	httpCfg httpclient.Config
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, opts ...Option) *WeatherAPIProvider {
	o := buildOptions("https://api.weatherapi.com/v1/forecast.json", opts)
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		opts:    o,
		httpCfg: o.httpConfig(client),
		circuit: httpclient.NewBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

type weatherAPICondition struct {
	Text string `json:"text"`
}

type weatherAPIPayload struct {
	Location struct {
		TzID string `json:"tz_id"`
	} `json:"location"`
	Current struct {
		LastUpdatedEpoch int64               `json:"last_updated_epoch"`
		TempC            float64             `json:"temp_c"`
		FeelsLikeC       float64             `json:"feelslike_c"`
		Humidity         float64             `json:"humidity"`
		WindKph          float64             `json:"wind_kph"`
		WindDegree       float64             `json:"wind_degree"`
		PressureMb       float64             `json:"pressure_mb"`
		PrecipMm         float64             `json:"precip_mm"`
		UV               float64             `json:"uv"`
		IsDay            int                 `json:"is_day"`
		Condition        weatherAPICondition `json:"condition"`
		AirQuality       *struct {
			NO2      float64 `json:"no2"`
			O3       float64 `json:"o3"`
			PM25     float64 `json:"pm2_5"`
			PM10     float64 `json:"pm10"`
			EPAIndex int     `json:"us-epa-index"`
		} `json:"air_quality"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC          float64             `json:"maxtemp_c"`
				MinTempC          float64             `json:"mintemp_c"`
				DailyChanceOfRain float64             `json:"daily_chance_of_rain"`
				Condition         weatherAPICondition `json:"condition"`
			} `json:"day"`
			Astro struct {
				Sunrise string `json:"sunrise"`
				Sunset  string `json:"sunset"`
			} `json:"astro"`
			Hour []struct {
				TimeEpoch    int64               `json:"time_epoch"`
				TempC        float64             `json:"temp_c"`
				ChanceOfRain float64             `json:"chance_of_rain"`
				Condition    weatherAPICondition `json:"condition"`
			} `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
	Alerts struct {
		Alert []struct {
			Headline  string `json:"headline"`
			Severity  string `json:"severity"`
			Event     string `json:"event"`
			Desc      string `json:"desc"`
			Effective string `json:"effective"`
			Expires   string `json:"expires"`
		} `json:"alert"`
	} `json:"alerts"`
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc *weather.Location) (*weather.Weather, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("weatherapi api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		// WeatherAPI uses "q" for location; it accepts "city,country" or "lat,lon".
		if loc.IsUsable() {
			values.Set("q", fmt.Sprintf("%f,%f", loc.Latitude, loc.Longitude))
		} else {
			q := loc.City
			if loc.Country != "" {
				q = fmt.Sprintf("%s,%s", loc.City, loc.Country)
			}
			values.Set("q", q)
		}
		values.Set("days", "3")
		values.Set("aqi", "yes")
		values.Set("alerts", "yes")

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

	var payload weatherAPIPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode weatherapi response: %w", err)
	}
	return mapWeatherAPI(payload, time.Now().UTC()), nil
}

func mapWeatherAPI(payload weatherAPIPayload, now time.Time) *weather.Weather {
	zone := time.UTC
	if tz, err := time.LoadLocation(payload.Location.TzID); err == nil && payload.Location.TzID != "" {
		zone = tz
	}

	w := &weather.Weather{}
	c := payload.Current
	if c.LastUpdatedEpoch > 0 {
		w.Base.Timestamp = time.Unix(c.LastUpdatedEpoch, 0).UTC()
	}

	w.Current = weather.Current{
		Condition:        mapWeatherAPICondition(c.Condition.Text),
		Text:             c.Condition.Text,
		TemperatureC:     c.TempC,
		FeelsLikeC:       c.FeelsLikeC,
		HumidityPct:      c.Humidity,
		WindSpeedMS:      c.WindKph / 3.6, // kph to m/s
		WindDirectionDeg: c.WindDegree,
		PressureHpa:      c.PressureMb,
		PrecipMm:         c.PrecipMm,
		UVIndex:          c.UV,
		IsDay:            c.IsDay == 1,
	}
	if c.AirQuality != nil {
		w.AirQuality = &weather.AirQuality{
			PM25:     c.AirQuality.PM25,
			PM10:     c.AirQuality.PM10,
			O3:       c.AirQuality.O3,
			NO2:      c.AirQuality.NO2,
			EPAIndex: c.AirQuality.EPAIndex,
		}
	}

	cutoff := now.Truncate(time.Hour)
	for _, fd := range payload.Forecast.ForecastDay {
		day := weather.Daily{
			Date:                 fd.Date,
			Condition:            mapWeatherAPICondition(fd.Day.Condition.Text),
			Text:                 fd.Day.Condition.Text,
			MaxC:                 fd.Day.MaxTempC,
			MinC:                 fd.Day.MinTempC,
			PrecipProbabilityPct: fd.Day.DailyChanceOfRain,
		}
		if ts, ok := parseLocalTime(weatherAPIAstroLayout, fd.Date+" "+fd.Astro.Sunrise, zone); ok {
			day.Astro.Sunrise = ts.UTC()
		}
		if ts, ok := parseLocalTime(weatherAPIAstroLayout, fd.Date+" "+fd.Astro.Sunset, zone); ok {
			day.Astro.Sunset = ts.UTC()
		}
		w.Daily = append(w.Daily, day)

		for _, h := range fd.Hour {
			ts := time.Unix(h.TimeEpoch, 0).UTC()
			if ts.Before(cutoff) {
				continue
			}
			w.Hourly = append(w.Hourly, weather.Hourly{
				Time:                 ts,
				Condition:            mapWeatherAPICondition(h.Condition.Text),
				TemperatureC:         h.TempC,
				PrecipProbabilityPct: h.ChanceOfRain,
			})
		}
	}

	for _, a := range payload.Alerts.Alert {
		alert := weather.Alert{
			// Providers do not number alerts; derive a stable id from their content.
			ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(a.Headline+"|"+a.Effective)).String(),
			Headline:    a.Headline,
			Description: a.Desc,
			Severity:    a.Severity,
		}
		if alert.Headline == "" {
			alert.Headline = a.Event
		}
		if ts, err := time.Parse(time.RFC3339, a.Effective); err == nil {
			alert.Start = ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339, a.Expires); err == nil {
			alert.End = ts.UTC()
		}
		w.Alerts = append(w.Alerts, alert)
	}

	return w
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case contains(text, "thunder") || contains(text, "storm"):
		return weather.ConditionStorm
	case contains(text, "fog"):
		return weather.ConditionFog
	case contains(text, "sleet") || contains(text, "freezing"):
		return weather.ConditionSleet
	case contains(text, "ice pellets") || contains(text, "hail"):
		return weather.ConditionHail
	case contains(text, "snow") || contains(text, "blizzard"):
		return weather.ConditionSnow
	case contains(text, "rain") || contains(text, "shower") || contains(text, "drizzle"):
		return weather.ConditionRain
	case contains(text, "mist"):
		return weather.ConditionMist
	case contains(text, "partly"):
		return weather.ConditionPartlyCloudy
	case contains(text, "cloud") || contains(text, "overcast"):
		return weather.ConditionCloudy
	case contains(text, "sunny") || contains(text, "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
