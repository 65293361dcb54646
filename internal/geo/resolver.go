// Package geo resolves free-text locations to a country so phone numbers can
// be validated in the right region.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
)

const (
	// DefaultBaseURL is the public Nominatim search endpoint.
	DefaultBaseURL   = "https://nominatim.openstreetmap.org/search"
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "leadscout/1.0"
)

// Region is a resolved country.
type Region struct {
	Country string `json:"country"`
	Code    string `json:"country_code"`
}

// Limiter throttles geocoder calls across processes. Allow returns false
// when the caller should wait before trying again.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Resolver queries a Nominatim-compatible geocoder. It never returns an
// error: any failure yields the configured fallback region.
type Resolver struct {
	baseURL   string
	userAgent string
	fallback  Region
	client    *http.Client
	local     *rate.Limiter
	shared    Limiter
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]Region
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithBaseURL(u string) Option { return func(r *Resolver) { r.baseURL = u } }
func WithUserAgent(ua string) Option { return func(r *Resolver) { r.userAgent = ua } }
func WithTimeout(d time.Duration) Option { return func(r *Resolver) { r.client.Timeout = d } }
func WithSharedLimiter(l Limiter) Option { return func(r *Resolver) { r.shared = l } }
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }
func WithRate(perSecond float64) Option {
	return func(r *Resolver) {
		if perSecond <= 0 {
			r.local = nil
			return
		}
		r.local = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewResolver returns a Resolver that falls back to the given region.
func NewResolver(fallback Region, opts ...Option) *Resolver {
	r := &Resolver{
		baseURL:   DefaultBaseURL,
		userAgent: defaultUserAgent,
		fallback:  fallback,
		client:    &http.Client{Timeout: defaultTimeout},
		local:     rate.NewLimiter(rate.Limit(1), 1),
		logger:    slog.Default(),
		cache:     make(map[string]Region),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps location to a country. Successful lookups are cached for the
// lifetime of the Resolver; failures are not.
func (r *Resolver) Resolve(ctx context.Context, location string) Region {
	key := strings.ToLower(strings.TrimSpace(location))
	if key == "" {
		return r.fallback
	}

	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return cached
	}

	region, err := r.lookup(ctx, location)
	if err != nil {
		r.logger.Warn("geocoding failed, using fallback region",
			slog.String("location", location),
			slog.String("fallback", r.fallback.Code),
			slog.String("error", err.Error()),
		)
		telemetry.GeocoderFallbacks.Inc()
		return r.fallback
	}

	r.mu.Lock()
	r.cache[key] = region
	r.mu.Unlock()
	return region
}

type nominatimPlace struct {
	Address struct {
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

func (r *Resolver) lookup(ctx context.Context, location string) (Region, error) {
	if err := r.throttle(ctx); err != nil {
		return Region{}, err
	}

	params := url.Values{}
	params.Set("q", location)
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("limit", "1")
	params.Set("accept-language", "en")
	endpoint := strings.TrimRight(r.baseURL, "?&") + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Region{}, fmt.Errorf("build geocoder request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := r.client.Do(req)
	if err != nil {
		return Region{}, fmt.Errorf("geocoder call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Region{}, fmt.Errorf("geocoder responded with status %d", resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return Region{}, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(places) == 0 {
		return Region{}, fmt.Errorf("no geocoding results for %q", location)
	}
	addr := places[0].Address
	if addr.Country == "" || addr.CountryCode == "" {
		return Region{}, fmt.Errorf("no country component for %q", location)
	}
	return Region{Country: addr.Country, Code: strings.ToUpper(addr.CountryCode)}, nil
}

// throttle waits for the local limiter, then polls the shared limiter. A
// shared limiter error lets the call through rather than blocking geocoding
// on Redis availability.
func (r *Resolver) throttle(ctx context.Context) error {
	if r.local != nil {
		if err := r.local.Wait(ctx); err != nil {
			return fmt.Errorf("geocoder rate limit: %w", err)
		}
	}
	if r.shared == nil {
		return nil
	}
	for {
		allowed, err := r.shared.Allow(ctx, "geocoder")
		if err != nil {
			r.logger.Warn("shared geocoder limiter unavailable", slog.String("error", err.Error()))
			return nil
		}
		if allowed {
			return nil
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("geocoder rate limit: %w", ctx.Err())
		}
	}
}
