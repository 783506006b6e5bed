// Package breaker wraps github.com/sony/gobreaker behind the uniform
// contract the lexical, vector, and rerank adapters share: independent
// per-dependency state, an open_duration_ms cooldown, and a half-open probe
// that closes on a configurable consecutive-success threshold (§5).
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"synapse/internal/coreerr"
)

// Config mirrors the `circuit_breakers.<name>` config block.
type Config struct {
	Name              string
	FailureThreshold  uint32 // consecutive failures before opening
	SuccessThreshold  uint32 // consecutive successes in half-open before closing
	OpenDurationMs    int
}

// Breaker guards calls to one external dependency.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a Breaker from Config, defaulting any zero-valued fields to
// conservative values so a missing config section never disables breaking.
func New(cfg Config) *Breaker {
	failureThreshold := cfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	successThreshold := cfg.SuccessThreshold
	if successThreshold == 0 {
		successThreshold = 2
	}
	openDuration := time.Duration(cfg.OpenDurationMs) * time.Millisecond
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: successThreshold,
		Interval:    0, // never reset closed-state counters on a timer; only on trip
		Timeout:     openDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// ErrOpen is returned (wrapped in a *coreerr.Error with Kind CircuitOpen)
// when the breaker is open or the half-open probe budget is exhausted.
var ErrOpen = errors.New("circuit breaker open")

// Do executes fn if the breaker allows it, translating gobreaker's own
// open-state error into coreerr.CircuitOpen so callers can treat it
// uniformly with every other stage error.
func Do[T any](ctx context.Context, b *Breaker, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, coreerr.New(op, coreerr.CircuitOpen, ErrOpen)
		}
		return zero, err
	}
	return result.(T), nil
}

// State reports the breaker's current state name, used for health/metrics
// surfaces.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
