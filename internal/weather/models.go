package weather

import (
	"fmt"
	"math"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown      Condition = "unknown"
	ConditionClear        Condition = "clear"
	ConditionPartlyCloudy Condition = "partly_cloudy"
	ConditionCloudy       Condition = "cloudy"
	ConditionRain         Condition = "rain"
	ConditionSnow         Condition = "snow"
	ConditionSleet        Condition = "sleet"
	ConditionHail         Condition = "hail"
	ConditionStorm        Condition = "storm"
	ConditionFog          Condition = "fog"
	ConditionMist         Condition = "mist"
	ConditionWind         Condition = "wind"
)

// CurrentPositionID is the formatted id of the device-located entry.
const CurrentPositionID = "CURRENT_POSITION"

// ValidateCoordinates checks if latitude and longitude are within valid ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return fmt.Errorf("coordinates cannot be NaN")
	}
	if math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("coordinates cannot be infinite")
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude must be between -180 and 180")
	}
	return nil
}

// Location is one slot of the user's ordered location list.
// Position 0 is the primary location.
type Location struct {
	CityID      string  `json:"cityId,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	TimeZone    string  `json:"timeZone,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"countryCode,omitempty"`
	Province    string  `json:"province,omitempty"`
	City        string  `json:"city,omitempty"`
	District    string  `json:"district,omitempty"`

	// WeatherSource names the provider used for this location; empty means the default.
	WeatherSource string `json:"weatherSource,omitempty"`

	CurrentPosition  bool `json:"currentPosition"`
	ResidentPosition bool `json:"residentPosition"`
	InChina          bool `json:"inChina"`

	// Weather is attached at runtime and is not persisted with the location.
	Weather *Weather `json:"weather,omitempty"`
}

// FormattedID returns the canonical key for indexing this location in stores.
func (l *Location) FormattedID() string {
	switch {
	case l.CurrentPosition:
		return CurrentPositionID
	case l.CityID != "":
		return l.CityID
	default:
		return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
	}
}

// IsUsable reports whether the location carries a usable fix.
func (l *Location) IsUsable() bool {
	if ValidateCoordinates(l.Latitude, l.Longitude) != nil {
		return false
	}
	return l.Latitude != 0 || l.Longitude != 0
}

// Apply copies a resolved fix into the location. The formatted id is kept.
func (l *Location) Apply(fix Fix) {
	l.Latitude = fix.Latitude
	l.Longitude = fix.Longitude
	l.District = fix.District
	l.City = fix.City
	l.Province = fix.Province
	l.Country = fix.Country
	l.InChina = fix.InChina
	if fix.CountryCode != "" {
		l.CountryCode = fix.CountryCode
	}
	if fix.TimeZone != "" {
		l.TimeZone = fix.TimeZone
	}
}

// Zone returns the location's time zone, falling back to UTC.
func (l *Location) Zone() *time.Location {
	if l.TimeZone == "" {
		return time.UTC
	}
	tz, err := time.LoadLocation(l.TimeZone)
	if err != nil {
		return time.UTC
	}
	return tz
}

// String renders the most specific administrative name available.
func (l *Location) String() string {
	name := l.City
	if l.District != "" && l.District != l.City {
		name = l.District
	}
	if name == "" {
		return l.FormattedID()
	}
	if l.Country != "" {
		return name + ", " + l.Country
	}
	return name
}

// Fix is a resolved device position with its administrative names.
type Fix struct {
	District    string  `json:"district,omitempty"`
	City        string  `json:"city,omitempty"`
	Province    string  `json:"province,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"countryCode,omitempty"`
	TimeZone    string  `json:"timeZone,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	InChina     bool    `json:"inChina"`
}

// Usable reports whether the fix can be assigned to a location.
func (f *Fix) Usable() bool {
	if f == nil || ValidateCoordinates(f.Latitude, f.Longitude) != nil {
		return false
	}
	return f.Latitude != 0 || f.Longitude != 0
}

// Base identifies a weather snapshot in time.
type Base struct {
	CityID string `json:"cityId"`
	// Timestamp is the provider's own generation time for the payload.
	Timestamp time.Time `json:"timestamp"`
	// UpdateTime is when this process fetched the payload.
	UpdateTime time.Time `json:"updateTime"`
}

// Current holds the present conditions.
type Current struct {
	Condition        Condition `json:"condition"`
	Text             string    `json:"text,omitempty"`
	TemperatureC     float64   `json:"temperatureC"`
	FeelsLikeC       float64   `json:"feelsLikeC"`
	HumidityPct      float64   `json:"humidityPercent"`
	WindSpeedMS      float64   `json:"windSpeed"`
	WindDirectionDeg float64   `json:"windDirection"`
	PressureHpa      float64   `json:"pressureHpa"`
	PrecipMm         float64   `json:"precipMm"`
	UVIndex          float64   `json:"uvIndex"`
	IsDay            bool      `json:"isDay"`
}

// Astro holds sun times for a day.
type Astro struct {
	Sunrise time.Time `json:"sunrise,omitempty"`
	Sunset  time.Time `json:"sunset,omitempty"`
}

// Daily is one forecast day.
type Daily struct {
	Date                 string    `json:"date"` // YYYY-MM-DD, location time zone
	Condition            Condition `json:"condition"`
	Text                 string    `json:"text,omitempty"`
	MaxC                 float64   `json:"maxC"`
	MinC                 float64   `json:"minC"`
	PrecipProbabilityPct float64   `json:"precipProbabilityPercent"`
	Astro                Astro     `json:"astro"`
}

// Hourly is one forecast hour.
type Hourly struct {
	Time                 time.Time `json:"time"`
	Condition            Condition `json:"condition"`
	TemperatureC         float64   `json:"temperatureC"`
	PrecipProbabilityPct float64   `json:"precipProbabilityPercent"`
}

// Minutely is a short-range precipitation step.
type Minutely struct {
	Time     time.Time `json:"time"`
	PrecipMm float64   `json:"precipMm"`
}

// Alert is a weather warning issued for the location.
type Alert struct {
	ID          string    `json:"id"`
	Headline    string    `json:"headline"`
	Description string    `json:"description,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Start       time.Time `json:"start,omitempty"`
	End         time.Time `json:"end,omitempty"`
}

type AirQuality struct {
	PM25     float64 `json:"pm25"`
	PM10     float64 `json:"pm10"`
	O3       float64 `json:"o3"`
	NO2      float64 `json:"no2"`
	EPAIndex int     `json:"epaIndex,omitempty"`
}

// Pollen concentrations in grains/m³.
type Pollen struct {
	Alder   float64 `json:"alder"`
	Birch   float64 `json:"birch"`
	Grass   float64 `json:"grass"`
	Ragweed float64 `json:"ragweed"`
}

// History is the min/max record of one local day, used for trend display.
type History struct {
	CityID string  `json:"cityId"`
	Date   string  `json:"date"`
	MaxC   float64 `json:"maxC"`
	MinC   float64 `json:"minC"`
}

// Merge widens h with another record of the same day.
func (h History) Merge(other History) History {
	if other.MaxC > h.MaxC {
		h.MaxC = other.MaxC
	}
	if other.MinC < h.MinC {
		h.MinC = other.MinC
	}
	return h
}

// Weather is a snapshot of everything known about one location at a point in time.
type Weather struct {
	Base       Base        `json:"base"`
	Current    Current     `json:"current"`
	Daily      []Daily     `json:"daily,omitempty"`
	Hourly     []Hourly    `json:"hourly,omitempty"`
	Minutely   []Minutely  `json:"minutely,omitempty"`
	Alerts     []Alert     `json:"alerts,omitempty"`
	AirQuality *AirQuality `json:"airQuality,omitempty"`
	Pollen     *Pollen     `json:"pollen,omitempty"`

	// Yesterday is attached on read from the history records.
	Yesterday *History `json:"yesterday,omitempty"`
}

// IsValid reports whether the snapshot was fetched less than window ago.
// A snapshot stamped after now is never valid.
func (w *Weather) IsValid(window time.Duration, now time.Time) bool {
	if w == nil || w.Base.UpdateTime.IsZero() || window <= 0 {
		return false
	}
	return !now.Before(w.Base.UpdateTime) && now.Sub(w.Base.UpdateTime) < window
}

// TodayHistory derives the history record for the snapshot's first forecast day.
// Without daily data it falls back to the current temperature.
func (w *Weather) TodayHistory(loc *Location) History {
	h := History{CityID: loc.FormattedID()}
	if len(w.Daily) > 0 {
		h.Date = w.Daily[0].Date
		h.MaxC = w.Daily[0].MaxC
		h.MinC = w.Daily[0].MinC
		return h
	}
	ts := w.Base.Timestamp
	if ts.IsZero() {
		ts = w.Base.UpdateTime
	}
	h.Date = ts.In(loc.Zone()).Format(DateLayout)
	h.MaxC = w.Current.TemperatureC
	h.MinC = w.Current.TemperatureC
	return h
}

// DateLayout is the layout of Daily.Date and History.Date.
const DateLayout = "2006-01-02"

// PreviousDate returns the day before a DateLayout date.
func PreviousDate(date string) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return d.AddDate(0, 0, -1).Format(DateLayout), nil
}
