package geocoding

import (
	"context"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/hermes/internal/metrics"
	"github.com/UnknownOlympus/hermes/internal/models"
)

const (
	// DefaultTimeout bounds a single provider request.
	DefaultTimeout = 10 * time.Second
	// DefaultDelay is the pause after every successful provider request.
	DefaultDelay = 1 * time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Resolver maps addresses to coordinates through a Provider, memoizing results in a Cache.
// It is not safe for concurrent use: lookups are meant to run one after another so the
// provider's rate limit is respected.
type Resolver struct {
	provider     Provider
	providerName string
	cache        *Cache
	log          *slog.Logger
	metrics      *metrics.Metrics
	timeout      time.Duration
	delay        time.Duration
	sleep        SleepFunc
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = timeout }
}

// WithDelay overrides the pause applied after a successful provider request.
func WithDelay(delay time.Duration) ResolverOption {
	return func(r *Resolver) { r.delay = delay }
}

// WithSleep replaces the function used to wait out the delay.
func WithSleep(sleep SleepFunc) ResolverOption {
	return func(r *Resolver) { r.sleep = sleep }
}

// WithMetrics enables cache and provider metrics.
func WithMetrics(m *metrics.Metrics, providerName string) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
		r.providerName = providerName
	}
}

// NewResolver creates a resolver over provider and cache. A nil cache gets a fresh one.
func NewResolver(log *slog.Logger, provider Provider, cache *Cache, opts ...ResolverOption) *Resolver {
	if cache == nil {
		cache = NewCache()
	}

	res := &Resolver{
		provider: provider,
		cache:    cache,
		log:      log,
		timeout:  DefaultTimeout,
		delay:    DefaultDelay,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(res)
	}

	return res
}

// Resolve returns the coordinates of address, or nil when it cannot be resolved.
// Failures are soft: they are logged and cached so the address is not queried again.
func (r *Resolver) Resolve(ctx context.Context, address string) *models.Coordinates {
	if coords, ok := r.cache.Get(address); ok {
		r.observeLookup("hit")
		return coords
	}
	r.observeLookup("miss")

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	startTime := time.Now()
	coords, err := r.provider.Geocode(reqCtx, address)
	if r.metrics != nil {
		r.metrics.RequestSeconds.WithLabelValues(r.providerName).Observe(time.Since(startTime).Seconds())
	}

	if err != nil || coords == nil {
		r.log.WarnContext(ctx, "Failed to geocode address", "address", address, "error", err)
		if r.metrics != nil {
			r.metrics.APIErrors.Inc()
		}
		r.cache.Put(address, nil)
		return nil
	}

	r.cache.Put(address, coords)

	if err = r.sleep(ctx, r.delay); err != nil {
		r.log.DebugContext(ctx, "Geocoding delay interrupted", "error", err)
	}

	return coords
}

// Cache exposes the resolver's cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

func (r *Resolver) observeLookup(result string) {
	if r.metrics != nil {
		r.metrics.GeocodeLookups.WithLabelValues(result).Inc()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
