package providers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/i474232898/weather-polling/internal/httpclient"
)

// Option customizes a provider at construction time.
type Option func(*options)

type options struct {
	baseURL       string
	airQualityURL string
	limiter       *rate.Limiter
	userAgent     string
	backoff       httpclient.BackoffConfig
	log           *zap.SugaredLogger
}

// WithBaseURL points the provider at a different endpoint (tests, mirrors).
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithAirQualityURL overrides the Open-Meteo air-quality endpoint.
func WithAirQualityURL(u string) Option {
	return func(o *options) { o.airQualityURL = u }
}

// WithLogger sets the logger used for non-fatal provider problems.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.log = l }
}

// WithLimiter throttles outbound requests.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithBackoff replaces the default retry policy.
func WithBackoff(b httpclient.BackoffConfig) Option {
	return func(o *options) { o.backoff = b }
}

// WithUserAgent sets the User-Agent header; Met.no rejects anonymous clients.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

func buildOptions(defaultURL string, opts []Option) options {
	o := options{baseURL: defaultURL, backoff: httpclient.DefaultBackoff}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	return o
}

func (o options) httpConfig(client *http.Client) httpclient.Config {
	return httpclient.Config{
		Client:  client,
		Backoff: o.backoff,
		Limiter: o.limiter,
	}
}

func (o options) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if o.userAgent != "" {
		req.Header.Set("User-Agent", o.userAgent)
	}
}

func contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// parseLocalTime parses provider timestamps that carry no offset.
func parseLocalTime(layout, value string, zone *time.Location) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(layout, value, zone)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
