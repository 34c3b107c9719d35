package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"senhts/internal/config"
	"senhts/internal/raster"
	"senhts/internal/tasks"
)

var errCircuitOpen = errors.New("circuit breaker open")

// BreakerSettings tunes WithBreaker.
type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// BreakerFromConfig maps the breaker config section.
func BreakerFromConfig(name string, cfg config.Breaker, logger *slog.Logger) BreakerSettings {
	return BreakerSettings{Name: name, MaxFailures: cfg.MaxFailures, OpenTimeout: cfg.OpenTimeout, Logger: logger}
}

type breakerSource struct {
	src     tasks.Source
	circuit *gobreaker.CircuitBreaker
}

// WithBreaker wraps src so that after MaxFailures consecutive fetch failures
// further fetches fail fast until OpenTimeout elapses. Fast failures still
// degrade only the interval they were issued for.
func WithBreaker(src tasks.Source, s BreakerSettings) tasks.Source {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := s.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not a source fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Source circuit state changed",
				slog.String("source", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &breakerSource{src: src, circuit: cb}
}

func (b *breakerSource) Fetch(ctx context.Context, req tasks.FetchRequest) ([]raster.Observation, error) {
	result, err := b.circuit.Execute(func() (interface{}, error) {
		return b.src.Fetch(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", errCircuitOpen, b.circuit.Name(), err)
	}
	if err != nil {
		return nil, err
	}
	obs, ok := result.([]raster.Observation)
	if !ok && result != nil {
		return nil, fmt.Errorf("unexpected result type %T from circuit breaker", result)
	}
	return obs, nil
}

// State reports the breaker state of a source built by WithBreaker.
func State(src tasks.Source) (string, bool) {
	b, ok := src.(*breakerSource)
	if !ok {
		return "", false
	}
	return b.circuit.State().String(), true
}
