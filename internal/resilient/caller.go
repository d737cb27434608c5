// Package resilient wraps every outbound provider call with a bounded
// timeout, exponential backoff with jitter, a per-provider circuit
// breaker, a TTL cache with positive and negative entries, and
// structured request telemetry. Provider clients build a Caller per
// result type and route all requests through Call.
package resilient

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RequestFunc performs one attempt against a provider. The context
// carries the per-attempt deadline. Implementations classify failures
// by returning a *ProviderError (via Transient, NotFound, Permanent or
// FromHTTPStatus); any other error is treated as transient.
type RequestFunc[T any] func(ctx context.Context) (T, error)

// Config holds per-provider resilience settings.
type Config struct {
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxAttempts caps the number of attempts per call.
	MaxAttempts int
	// BaseDelay is the starting backoff delay; jitter is drawn from
	// [0, BaseDelay).
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// CacheTTL is the positive result TTL.
	CacheTTL time.Duration
	// NegativeCacheTTL is the not-found result TTL, typically shorter.
	NegativeCacheTTL time.Duration
	// Breaker configures the provider's circuit breaker.
	Breaker BreakerConfig
}

// DefaultConfig returns sensible provider defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		MaxAttempts:      3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		CacheTTL:         24 * time.Hour,
		NegativeCacheTTL: time.Hour,
		Breaker:          DefaultBreakerConfig(),
	}
}

// Caller executes requests against one provider with the full
// resilience stack. Create one per provider result type; Callers for
// the same provider should share a breaker via WithBreaker.
type Caller[T any] struct {
	provider string
	config   Config
	cache    *TTLCache[T]
	breaker  *CircuitBreaker
	recorder Recorder
	logger   *slog.Logger
}

// Option customizes a Caller.
type Option[T any] func(*Caller[T])

// WithBreaker shares an existing circuit breaker, so several Callers
// against one provider trip together.
func WithBreaker[T any](breaker *CircuitBreaker) Option[T] {
	return func(c *Caller[T]) { c.breaker = breaker }
}

// WithRecorder sets the telemetry recorder.
func WithRecorder[T any](recorder Recorder) Option[T] {
	return func(c *Caller[T]) { c.recorder = recorder }
}

// WithLogger sets the logger used for retries and breaker transitions.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(c *Caller[T]) { c.logger = logger }
}

// NewCaller creates a Caller for the named provider.
func NewCaller[T any](provider string, config Config, opts ...Option[T]) *Caller[T] {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig().BaseDelay
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = DefaultConfig().MaxDelay
	}

	c := &Caller[T]{
		provider: provider,
		config:   config,
		cache:    NewTTLCache[T](config.CacheTTL, config.NegativeCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(provider, config.Breaker, c.logger)
	}
	return c
}

// Breaker returns the caller's circuit breaker, for sharing with other
// Callers of the same provider.
func (c *Caller[T]) Breaker() *CircuitBreaker {
	return c.breaker
}

// Call runs fn with the full resilience stack. The key identifies the
// logical request for caching and telemetry (for example
// "match:Corvus corax").
//
// Order of operations: circuit check, cache check, then up to
// MaxAttempts network attempts with backoff. Cache hits, positive or
// negative, return without touching the breaker's failure accounting.
func (c *Caller[T]) Call(ctx context.Context, key string, fn RequestFunc[T]) (T, error) {
	var zero T
	start := time.Now()

	if err := c.breaker.Allow(); err != nil {
		c.record(key, OutcomeCircuitOpen, 0, time.Since(start))
		return zero, err
	}

	if value, negative, found := c.cache.Get(key); found {
		// The admitted slot was not used for a network attempt; give
		// it back so a half-open trial is not wasted on a cache hit.
		c.breaker.Release()
		if negative {
			c.record(key, OutcomeNegativeCache, 0, time.Since(start))
			pe := NotFound(c.provider, nil)
			pe.Cached = true
			return zero, pe
		}
		c.record(key, OutcomeCacheHit, 0, time.Since(start))
		return value, nil
	}

	var lastErr *ProviderError
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		attemptStart := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		value, err := fn(attemptCtx)
		cancel()

		if err == nil {
			c.breaker.RecordSuccess()
			c.cache.SetPositive(key, value)
			c.record(key, OutcomeSuccess, attempt+1, time.Since(start))
			return value, nil
		}

		pe := Classify(c.provider, err)
		pe.Provider = c.provider
		lastErr = pe

		switch pe.Kind {
		case KindNotFound:
			// The provider answered; this is not a failure for the
			// breaker, but it is cached so the miss is not repeated.
			c.breaker.RecordSuccess()
			c.cache.SetNegative(key)
			c.record(key, OutcomeNotFound, attempt+1, time.Since(start))
			return zero, pe

		case KindPermanent:
			c.breaker.Release()
			c.record(key, OutcomePermanent, attempt+1, time.Since(start))
			return zero, pe
		}

		// Transient: back off and retry unless attempts are exhausted
		// or the caller's context is done.
		if attempt == c.config.MaxAttempts-1 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		delay := c.backoffDelay(attempt, pe.RetryAfter)
		if c.logger != nil {
			c.logger.Warn("provider request failed, retrying",
				"provider", c.provider,
				"key", key,
				"attempt", attempt+1,
				"max_attempts", c.config.MaxAttempts,
				"delay_ms", delay.Milliseconds(),
				"duration_ms", time.Since(attemptStart).Milliseconds(),
				"error", err.Error())
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Caller-side cancellation stays out of breaker and
			// negative-cache accounting, same rule as Classify.
			if ctx.Err() != context.Canceled {
				c.breaker.RecordFailure()
				c.cache.SetNegative(key)
			}
			c.record(key, OutcomeTransient, attempt+1, time.Since(start))
			return zero, lastErr
		}
	}

	// Exhausted retries: count one failure toward the breaker and
	// cache a negative entry so the provider is not hammered even
	// after the circuit later closes. A cancelled caller is exempt,
	// same rule as the backoff wait above.
	if ctx.Err() != context.Canceled {
		c.breaker.RecordFailure()
		c.cache.SetNegative(key)
	}
	c.record(key, OutcomeTransient, c.config.MaxAttempts, time.Since(start))
	return zero, lastErr
}

// Invalidate drops the cached entry for a key.
func (c *Caller[T]) Invalidate(key string) {
	c.cache.Delete(key)
}

// backoffDelay computes the delay before the next attempt: the
// provider's retry-after hint when present, otherwise exponential
// backoff (base × 2^attempt, capped) plus jitter in [0, base).
func (c *Caller[T]) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := c.config.BaseDelay << uint(attempt)
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(c.config.BaseDelay)))
	return delay + jitter
}

func (c *Caller[T]) record(key string, outcome Outcome, attempts int, duration time.Duration) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(RequestRecord{
		Provider: c.provider,
		Key:      key,
		Outcome:  outcome,
		Attempts: attempts,
		Duration: duration,
	})
}
