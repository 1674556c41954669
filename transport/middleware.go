package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

// BreakerSettings configures WithBreaker. Zero values fall back to defaults.
type BreakerSettings struct {
	Name string
	// MaxFailures is the number of consecutive failed opens before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before allowing a probe.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
	Logger   *slog.Logger
}

// WithBreaker wraps t so that repeated failures to open a stream make subsequent opens
// fail fast with gobreaker.ErrOpenState. It does not retry.
func WithBreaker(t Transport, cfg BreakerSettings) Transport {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}
	name := cfg.Name
	if name == "" {
		name = "transport"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[Stream](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// a caller giving up is not an upstream failure
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})

	return Func(func(ctx context.Context, req Request) (Stream, error) {
		return cb.Execute(func() (Stream, error) {
			return t.Open(ctx, req)
		})
	})
}

// WithRateLimit wraps t so that every open first waits for a token from limiter.
func WithRateLimit(t Transport, limiter *rate.Limiter) Transport {
	if limiter == nil {
		return t
	}
	return Func(func(ctx context.Context, req Request) (Stream, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &Error{Op: "rate limit", URL: req.Endpoint, Err: err}
		}
		return t.Open(ctx, req)
	})
}
