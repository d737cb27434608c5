package resilient

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the state of a provider's circuit breaker.
type CircuitState int

const (
	// StateClosed means requests are flowing normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means a single trial request is testing recovery.
	StateHalfOpen
	// StateOpen means requests are rejected until the cooldown expires.
	StateOpen
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive exhausted-retry
	// failures before the circuit opens.
	MaxFailures int
	// Cooldown is how long the circuit stays open before a half-open
	// trial is allowed.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures for one provider and
// rejects calls while the provider is considered degraded. It is
// shared by every caller hitting that provider and safe for concurrent
// use.
type CircuitBreaker struct {
	config   BreakerConfig
	provider string
	logger   *slog.Logger

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openUntil     time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a breaker for the named provider. A nil
// logger disables transition logging.
func NewCircuitBreaker(provider string, config BreakerConfig, logger *slog.Logger) *CircuitBreaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &CircuitBreaker{
		config:   config,
		provider: provider,
		logger:   logger,
		state:    StateClosed,
	}
}

// Allow reports whether a call may proceed. When the cooldown of an
// open circuit has expired the breaker moves to half-open and admits
// exactly one trial call; concurrent callers are rejected until that
// trial completes.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Now().Before(cb.openUntil) {
			return &ProviderError{Provider: cb.provider, Kind: KindCircuitOpen}
		}
		cb.setState(StateHalfOpen)
		cb.trialInFlight = true
		return nil

	case StateHalfOpen:
		if cb.trialInFlight {
			return &ProviderError{Provider: cb.provider, Kind: KindCircuitOpen}
		}
		cb.trialInFlight = true
		return nil

	default:
		return &ProviderError{Provider: cb.provider, Kind: KindCircuitOpen}
	}
}

// Release returns an admitted slot without recording an outcome. Used
// when an allowed call turned out to be a cache hit and no network
// attempt was made.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

// RecordSuccess resets the failure counter and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialInFlight = false
	if cb.state != StateClosed {
		cb.setState(StateClosed)
	}
}

// RecordFailure counts one exhausted-retry failure. Crossing the
// threshold, or failing the half-open trial, opens the circuit for the
// configured cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.trialInFlight = false

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	case StateOpen:
		// Already open.
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset manually closes the circuit and clears the failure counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trialInFlight = false
	cb.setState(StateClosed)
}

// open must be called with cb.mu held.
func (cb *CircuitBreaker) open() {
	cb.openUntil = time.Now().Add(cb.config.Cooldown)
	cb.setState(StateOpen)
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState

	if cb.logger != nil {
		cb.logger.Info("circuit breaker state transition",
			"provider", cb.provider,
			"old_state", oldState.String(),
			"new_state", newState.String(),
			"consecutive_failures", cb.failures)
	}
}
