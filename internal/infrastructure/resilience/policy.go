package resilience

import "time"

// Config tunes one Executor. Zero fields fall back to ProviderPolicy values.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// MaxRetryAfter caps a server-requested delay (Retry-After). Longer
	// requests end the retry loop instead of stalling the job.
	MaxRetryAfter time.Duration

	// CallTimeout bounds each attempt separately; zero leaves attempts bounded only by ctx.
	CallTimeout time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// ProviderPolicy is for the bank aggregator and the receipt model: slow
// calls, rate limits and outages that last minutes.
func ProviderPolicy(callTimeout time.Duration) Config {
	return Config{
		RetryMaxAttempts:    4,
		RetryInitialBackoff: 250 * time.Millisecond,
		RetryMaxBackoff:     4 * time.Second,
		RetryMultiplier:     2,
		MaxRetryAfter:       30 * time.Second,
		CallTimeout:         callTimeout,

		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}
}

// QueuePolicy is for broker publishes, which either succeed fast or the
// job stays pending for recovery.
func QueuePolicy() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 50 * time.Millisecond,
		RetryMaxBackoff:     500 * time.Millisecond,
		RetryMultiplier:     3,
		CallTimeout:         5 * time.Second,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      15 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func orCount(v, fallback uint32) uint32 {
	if v == 0 {
		return fallback
	}
	return v
}

func (c Config) withDefaults() Config {
	def := ProviderPolicy(0)
	out := c

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	out.RetryInitialBackoff = orDuration(out.RetryInitialBackoff, def.RetryInitialBackoff)
	out.RetryMaxBackoff = max(orDuration(out.RetryMaxBackoff, def.RetryMaxBackoff), out.RetryInitialBackoff)
	if out.RetryMultiplier < 1 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	out.MaxRetryAfter = orDuration(out.MaxRetryAfter, def.MaxRetryAfter)
	out.CallTimeout = max(out.CallTimeout, 0)

	out.BreakerMinRequests = orCount(out.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	out.BreakerOpenTimeout = orDuration(out.BreakerOpenTimeout, def.BreakerOpenTimeout)
	out.BreakerHalfOpenMaxCalls = orCount(out.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return out
}

// backoff returns the wait after the given failed attempt (1-based).
func (c Config) backoff(attempt int) time.Duration {
	wait := float64(c.RetryInitialBackoff)
	for i := 1; i < attempt; i++ {
		wait *= c.RetryMultiplier
		if wait >= float64(c.RetryMaxBackoff) {
			return c.RetryMaxBackoff
		}
	}
	return time.Duration(wait)
}
