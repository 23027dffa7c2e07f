package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rflorenc/oafctl/internal/logging"
	"github.com/rflorenc/oafctl/internal/platform"
)

// ErrServiceUnavailable is returned when the health endpoint never answered.
// It is fatal: no mutation may follow it.
var ErrServiceUnavailable = errors.New("service unavailable")

// HealthChecker fetches a single health endpoint.
type HealthChecker interface {
	Health(ctx context.Context, path string) (*platform.HealthResponse, error)
}

// Gate polls the health endpoint before any destructive operation.
type Gate struct {
	api         HealthChecker
	path        string
	maxAttempts int
	delay       time.Duration
	log         *zap.SugaredLogger
	metrics     *Metrics
	progress    func(attempt, max int, err error)
}

// NewGate creates a gate polling path up to maxAttempts times, delay apart.
func NewGate(api HealthChecker, path string, maxAttempts int, delay time.Duration) *Gate {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Gate{
		api:         api,
		path:        path,
		maxAttempts: maxAttempts,
		delay:       delay,
		log:         logging.Nop(),
	}
}

// WithLogger sets the diagnostic logger.
func (g *Gate) WithLogger(log *zap.SugaredLogger) *Gate {
	g.log = log
	return g
}

// WithMetrics records each poll.
func (g *Gate) WithMetrics(m *Metrics) *Gate {
	g.metrics = m
	return g
}

// OnAttempt registers a callback invoked after every failed poll.
func (g *Gate) OnAttempt(fn func(attempt, max int, err error)) *Gate {
	g.progress = fn
	return g
}

// WaitUntilAvailable returns the health body of the first poll that
// succeeds. Any 2xx counts, regardless of body. After maxAttempts failures it
// returns an error wrapping ErrServiceUnavailable.
func (g *Gate) WaitUntilAvailable(ctx context.Context) (*platform.HealthResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		h, err := g.api.Health(ctx, g.path)
		g.metrics.observeGate(err)
		if err == nil {
			if h == nil {
				h = &platform.HealthResponse{}
			}
			g.log.Debugw("service available", "path", g.path, "attempt", attempt, "version", h.Version)
			return h, nil
		}
		lastErr = err
		g.log.Debugw("service not available", "path", g.path, "attempt", attempt, "error", err)
		if g.progress != nil {
			g.progress(attempt, g.maxAttempts, err)
		}

		if attempt == g.maxAttempts {
			break
		}
		if err := sleep(ctx, g.delay); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}
	return nil, fmt.Errorf("%w: %s did not answer after %d attempts: %v",
		ErrServiceUnavailable, g.path, g.maxAttempts, lastErr)
}
