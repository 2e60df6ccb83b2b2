// Package exchange contains ports.OrderAPI decorators and the in-process
// dry-run venue.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/deltamaker/internal/domain"
	"github.com/alejandrodnm/deltamaker/internal/metrics"
	"github.com/alejandrodnm/deltamaker/internal/ports"
)

// ErrBreakerOpen is returned without calling the venue while the breaker is open.
var ErrBreakerOpen = errors.New("exchange: circuit breaker open")

// GuardConfig tunes the rate limiter and the circuit breaker.
type GuardConfig struct {
	RatePerSecond   float64       // sustained request rate; <= 0 disables limiting
	Burst           int           // limiter bucket size
	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerTimeout  time.Duration // open → half-open delay
}

// DefaultGuardConfig returns conservative limits for the CLOB API.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RatePerSecond:   5,
		Burst:           5,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Guarded wraps an OrderAPI with a token bucket and a circuit breaker shared
// by submit, cancel and status. Context cancellation is not counted as a
// venue failure.
type Guarded struct {
	api     ports.OrderAPI
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

// NewGuarded decorates api.
func NewGuarded(api ports.OrderAPI, cfg GuardConfig) *Guarded {
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultGuardConfig().BreakerFailures
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "venue",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("exchange: breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Guarded{
		api:     api,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cb:      cb,
	}
}

// State returns the breaker state, for status output.
func (g *Guarded) State() string {
	return g.cb.State().String()
}

func (g *Guarded) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	var ack domain.OrderAck
	err := g.call(ctx, "submit", func() error {
		var err error
		ack, err = g.api.SubmitOrder(ctx, req)
		return err
	})
	return ack, err
}

func (g *Guarded) CancelOrder(ctx context.Context, orderID string) error {
	return g.call(ctx, "cancel", func() error {
		return g.api.CancelOrder(ctx, orderID)
	})
}

func (g *Guarded) OrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	var st domain.OrderState
	err := g.call(ctx, "status", func() error {
		var err error
		st, err = g.api.OrderStatus(ctx, orderID)
		return err
	})
	return st, err
}

func (g *Guarded) call(ctx context.Context, op string, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.VenueRequests.WithLabelValues(op, "rate_limited").Inc()
		return fmt.Errorf("exchange.%s: rate limit: %w", op, err)
	}

	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	switch {
	case err == nil:
		metrics.VenueRequests.WithLabelValues(op, "ok").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.VenueRequests.WithLabelValues(op, "breaker_open").Inc()
		return fmt.Errorf("exchange.%s: %w", op, ErrBreakerOpen)
	default:
		metrics.VenueRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("exchange.%s: %w", op, err)
	}
}
