package resilient

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Timeout:          time.Second,
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		CacheTTL:         time.Minute,
		NegativeCacheTTL: time.Minute,
		Breaker:          BreakerConfig{MaxFailures: 2, Cooldown: time.Minute},
	}
}

type captureRecorder struct {
	mu      sync.Mutex
	records []RequestRecord
}

func (c *captureRecorder) Record(rec RequestRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) last(t *testing.T) RequestRecord {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.records)
	return c.records[len(c.records)-1]
}

func TestCallSuccessIsCached(t *testing.T) {
	recorder := &captureRecorder{}
	caller := NewCaller[string]("test", testConfig(), WithRecorder[string](recorder))

	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		return "value", nil
	}

	got, err := caller.Call(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.Equal(t, "value", got)
	assert.Equal(t, 1, calls)

	// Second call is served from cache without touching fn.
	got, err = caller.Call(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.Equal(t, "value", got)
	assert.Equal(t, 1, calls)

	rec := recorder.last(t)
	assert.Equal(t, OutcomeCacheHit, rec.Outcome)
	assert.Equal(t, 0, rec.Attempts)
}

func TestCallRetriesTransientFailures(t *testing.T) {
	caller := NewCaller[string]("test", testConfig())

	calls := 0
	got, err := caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", FromHTTPStatus("test", http.StatusInternalServerError, 0)
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, caller.Breaker().Failures())
}

func TestCallExhaustedRetriesCountOneBreakerFailure(t *testing.T) {
	recorder := &captureRecorder{}
	caller := NewCaller[string]("test", testConfig(), WithRecorder[string](recorder))

	calls := 0
	_, err := caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls++
		return "", Transient("test", assert.AnError)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, caller.Breaker().Failures())

	rec := recorder.last(t)
	assert.Equal(t, OutcomeTransient, rec.Outcome)
	assert.Equal(t, 3, rec.Attempts)

	// The exhausted key is negatively cached; the next call does not
	// touch the provider.
	_, err = caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		t.Fatal("provider should not be called for a negatively cached key")
		return "", nil
	})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestCallNotFoundIsNotRetriedAndNotABreakerFailure(t *testing.T) {
	caller := NewCaller[string]("test", testConfig())

	calls := 0
	_, err := caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls++
		return "", FromHTTPStatus("test", http.StatusNotFound, 0)
	})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, caller.Breaker().Failures())

	// Negative entry serves the repeat lookup.
	_, err = caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		t.Fatal("unexpected provider call")
		return "", nil
	})
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Cached)
}

func TestCallPermanentIsNotRetried(t *testing.T) {
	caller := NewCaller[string]("test", testConfig())

	calls := 0
	_, err := caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls++
		return "", FromHTTPStatus("test", http.StatusUnauthorized, 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, caller.Breaker().Failures())
}

func TestCallCircuitOpenFastFails(t *testing.T) {
	recorder := &captureRecorder{}
	config := testConfig()
	config.Breaker = BreakerConfig{MaxFailures: 1, Cooldown: time.Minute}
	caller := NewCaller[string]("test", config, WithRecorder[string](recorder))

	_, err := caller.Call(context.Background(), "a", func(ctx context.Context) (string, error) {
		return "", Transient("test", assert.AnError)
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, caller.Breaker().State())

	_, err = caller.Call(context.Background(), "b", func(ctx context.Context) (string, error) {
		t.Fatal("open circuit must not reach the provider")
		return "", nil
	})
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, OutcomeCircuitOpen, recorder.last(t).Outcome)
}

func TestCallCacheHitDuringHalfOpenReleasesTrial(t *testing.T) {
	config := testConfig()
	config.Breaker = BreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Millisecond}
	caller := NewCaller[string]("test", config)

	// Prime a positive entry, then trip the breaker on another key.
	_, err := caller.Call(context.Background(), "warm", func(ctx context.Context) (string, error) {
		return "v", nil
	})
	require.NoError(t, err)
	_, err = caller.Call(context.Background(), "cold", func(ctx context.Context) (string, error) {
		return "", Transient("test", assert.AnError)
	})
	require.Error(t, err)

	time.Sleep(20 * time.Millisecond)

	// The cache hit consumes the half-open trial slot and gives it
	// back, so a real trial can still go out afterwards.
	got, err := caller.Call(context.Background(), "warm", func(ctx context.Context) (string, error) {
		t.Fatal("cached key must not reach the provider")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	trials := 0
	got, err = caller.Call(context.Background(), "fresh", func(ctx context.Context) (string, error) {
		trials++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, trials)
	assert.Equal(t, StateClosed, caller.Breaker().State())
}

func TestCallHonorsRetryAfterHint(t *testing.T) {
	config := testConfig()
	config.MaxAttempts = 2
	caller := NewCaller[string]("test", config)

	hint := 30 * time.Millisecond
	start := time.Now()
	calls := 0
	got, err := caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", FromHTTPStatus("test", http.StatusTooManyRequests, hint)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.GreaterOrEqual(t, time.Since(start), hint)
}

func TestCallAttemptTimeoutCountsAsTransient(t *testing.T) {
	config := testConfig()
	config.Timeout = 10 * time.Millisecond
	config.MaxAttempts = 2
	caller := NewCaller[string]("test", config)

	calls := 0
	_, err := caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		calls++
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, caller.Breaker().Failures())
}

func TestCallCancelledDuringBackoffLeavesBreakerAndCacheAlone(t *testing.T) {
	config := testConfig()
	config.BaseDelay = 200 * time.Millisecond
	config.MaxDelay = 200 * time.Millisecond
	caller := NewCaller[string]("test", config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel while the caller is sitting in the backoff wait after the
	// first transient failure.
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	calls := 0
	_, err := caller.Call(ctx, "k", func(ctx context.Context) (string, error) {
		calls++
		return "", Transient("test", assert.AnError)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, caller.Breaker().Failures())

	// The key was not negatively cached, so a fresh caller reaches the
	// provider again.
	got, err := caller.Call(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	config := Config{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
		MaxAttempts: 5,
		Timeout:     time.Second,
	}
	caller := NewCaller[string]("test", config)

	for attempt, wantBase := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond, // capped
		300 * time.Millisecond,
	} {
		delay := caller.backoffDelay(attempt, 0)
		assert.GreaterOrEqual(t, delay, wantBase, "attempt %d", attempt)
		// Jitter is drawn from [0, base).
		assert.Less(t, delay, wantBase+config.BaseDelay, "attempt %d", attempt)
	}

	assert.Equal(t, 42*time.Millisecond, caller.backoffDelay(0, 42*time.Millisecond))
}

func TestRetryAfterParsing(t *testing.T) {
	assert.Equal(t, 7*time.Second, RetryAfter("7"))
	assert.Equal(t, time.Duration(0), RetryAfter(""))
	assert.Equal(t, time.Duration(0), RetryAfter("-3"))
	assert.Equal(t, time.Duration(0), RetryAfter("garbage"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	got := RetryAfter(future)
	assert.Greater(t, got, 50*time.Second)
	assert.LessOrEqual(t, got, time.Minute)
}

func TestTTLCacheNegativeEntriesExpireIndependently(t *testing.T) {
	cache := NewTTLCache[string](time.Minute, 20*time.Millisecond)

	cache.SetPositive("pos", "v")
	cache.SetNegative("neg")

	_, negative, found := cache.Get("neg")
	require.True(t, found)
	assert.True(t, negative)

	time.Sleep(40 * time.Millisecond)

	_, _, found = cache.Get("neg")
	assert.False(t, found, "negative entry should have expired")

	value, negative, found := cache.Get("pos")
	require.True(t, found)
	assert.False(t, negative)
	assert.Equal(t, "v", value)
}
