package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rflorenc/oafctl/internal/logging"
	"github.com/rflorenc/oafctl/internal/models"
	"github.com/rflorenc/oafctl/internal/platform"
)

// Remover issues a single DELETE.
type Remover interface {
	Delete(ctx context.Context, path string) error
}

// DeleteExhaustedError reports an identifier whose delete failed on every
// attempt. It is per identifier and never aborts a batch.
type DeleteExhaustedError struct {
	Class    models.ResourceClass
	ID       string
	Attempts int
	Err      error // last attempt's error
}

func (e *DeleteExhaustedError) Error() string {
	return fmt.Sprintf("delete %s %q failed after %d attempts: %v", e.Class, e.ID, e.Attempts, e.Err)
}

func (e *DeleteExhaustedError) Unwrap() error {
	return e.Err
}

// DeleteResult is the outcome of DeleteWithRetry.
type DeleteResult struct {
	Outcome  models.Outcome
	Attempts int
	Err      error // *DeleteExhaustedError when Outcome is FailedExhausted
}

// Deleter deletes identifiers with a fixed-interval retry policy.
type Deleter struct {
	api               Remover
	maxAttempts       int
	delay             time.Duration
	notFoundIsSuccess bool
	log               *zap.SugaredLogger
	metrics           *Metrics
	observe           AttemptObserver
}

// AttemptObserver is called after every delete attempt with its outcome:
// FailedRetryable when another attempt follows, FailedExhausted on the last
// failure, Succeeded otherwise. It may be called from several goroutines.
type AttemptObserver func(rt models.ResourceType, id string, attempt, max int, o models.Outcome, err error)

// DeleterOption configures a Deleter.
type DeleterOption func(*Deleter)

func WithAttempts(n int) DeleterOption {
	return func(d *Deleter) {
		d.maxAttempts = n
	}
}

func WithDelay(delay time.Duration) DeleterOption {
	return func(d *Deleter) {
		d.delay = delay
	}
}

// WithNotFoundIsSuccess treats HTTP 404 as an already-deleted identifier
// instead of a retryable failure.
func WithNotFoundIsSuccess(ok bool) DeleterOption {
	return func(d *Deleter) {
		d.notFoundIsSuccess = ok
	}
}

func WithLogger(log *zap.SugaredLogger) DeleterOption {
	return func(d *Deleter) {
		d.log = log
	}
}

func WithMetrics(m *Metrics) DeleterOption {
	return func(d *Deleter) {
		d.metrics = m
	}
}

func WithAttemptObserver(fn AttemptObserver) DeleterOption {
	return func(d *Deleter) {
		d.observe = fn
	}
}

// NewDeleter creates a Deleter. Defaults: 3 attempts, 2s apart.
func NewDeleter(api Remover, opts ...DeleterOption) *Deleter {
	d := &Deleter{
		api:         api,
		maxAttempts: 3,
		delay:       2 * time.Second,
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxAttempts < 1 {
		d.maxAttempts = 1
	}
	return d
}

// DeleteWithRetry deletes one identifier of rt. It stops at the first
// successful attempt and otherwise makes exactly maxAttempts attempts,
// sleeping the fixed delay between them. Cancelling ctx ends the loop early
// with FailedExhausted.
func (d *Deleter) DeleteWithRetry(ctx context.Context, rt models.ResourceType, id string) DeleteResult {
	path := rt.ItemPath(platform.EscapeID(id))

	var lastErr error
	attempts := 0
	for attempts < d.maxAttempts {
		attempts++
		err := d.api.Delete(ctx, path)
		d.metrics.observeAttempt(rt.Class, err)
		if err == nil || (d.notFoundIsSuccess && platform.IsNotFound(err)) {
			d.notify(rt, id, attempts, models.Succeeded, nil)
			return DeleteResult{Outcome: models.Succeeded, Attempts: attempts}
		}
		lastErr = err

		if attempts == d.maxAttempts {
			break
		}
		d.log.Debugw("delete failed, retrying",
			"class", rt.Class, "id", id, "attempt", attempts,
			"max_attempts", d.maxAttempts, "delay", d.delay, "error", err)
		d.notify(rt, id, attempts, models.FailedRetryable, err)
		if err := sleep(ctx, d.delay); err != nil {
			lastErr = err
			break
		}
	}

	d.log.Warnw("delete exhausted", "class", rt.Class, "id", id, "attempts", attempts, "error", lastErr)
	d.notify(rt, id, attempts, models.FailedExhausted, lastErr)
	return DeleteResult{
		Outcome:  models.FailedExhausted,
		Attempts: attempts,
		Err:      &DeleteExhaustedError{Class: rt.Class, ID: id, Attempts: attempts, Err: lastErr},
	}
}

func (d *Deleter) notify(rt models.ResourceType, id string, attempt int, o models.Outcome, err error) {
	if d.observe != nil {
		d.observe(rt, id, attempt, d.maxAttempts, o, err)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
