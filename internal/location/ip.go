package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/weather-polling/internal/httpclient"
)

// IPResolver locates the device from its public IP address using ip-api.com.
type IPResolver struct {
	baseURL string
	httpCfg httpclient.Config
	circuit *gobreaker.CircuitBreaker
}

// NewIPResolver builds an IP resolver. The free ip-api.com tier allows
// 45 requests per minute, which the limiter enforces.
func NewIPResolver(client *http.Client, baseURL string) *IPResolver {
	if baseURL == "" {
		baseURL = "http://ip-api.com/json/"
	}
	return &IPResolver{
		baseURL: baseURL,
		httpCfg: httpclient.Config{
			Client:  client,
			Backoff: httpclient.DefaultBackoff,
			Limiter: rate.NewLimiter(rate.Limit(45.0/60.0), 3),
		},
		circuit: httpclient.NewBreaker("ip-api"),
	}
}

func (r *IPResolver) Name() string {
	return "ip"
}

func (r *IPResolver) Resolve(ctx context.Context) (*Result, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("fields", "status,message,country,countryCode,regionName,city,district,lat,lon,timezone")
		u := fmt.Sprintf("%s?%s", r.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := httpclient.Do(ctx, r.httpCfg, r.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Status      string  `json:"status"`
		Message     string  `json:"message"`
		Country     string  `json:"country"`
		CountryCode string  `json:"countryCode"`
		RegionName  string  `json:"regionName"`
		City        string  `json:"city"`
		District    string  `json:"district"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
		Timezone    string  `json:"timezone"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ip-api response: %w", err)
	}
	if payload.Status != "success" {
		return nil, fmt.Errorf("%w: ip-api: %s", ErrNoFix, payload.Message)
	}

	res := &Result{
		District:    payload.District,
		City:        payload.City,
		Province:    payload.RegionName,
		Country:     payload.Country,
		CountryCode: payload.CountryCode,
		TimeZone:    payload.Timezone,
		Latitude:    payload.Lat,
		Longitude:   payload.Lon,
		InChina:     isChina(payload.CountryCode),
	}
	if !res.Usable() {
		return nil, ErrNoFix
	}
	return res, nil
}
