package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voicecall/internal/domain"
	"voicecall/internal/metrics"
)

const DefaultAttemptTimeout = 5 * time.Second

var errLoadTimeout = errors.New("load timeout")

type Resolver struct {
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewResolver(timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Resolver{
		timeout: timeout,
		logger:  logger.With("component", "resolver"),
		metrics: m,
	}
}

func (r *Resolver) Timeout() time.Duration {
	return r.timeout
}

// Resolve tries each candidate in order and returns the first one the loader
// reports ready within the per-attempt timeout. The loader is left pointing at
// the last attempted candidate. A timed-out load is not aborted beyond having
// its context cancelled; its late result is discarded.
func (r *Resolver) Resolve(ctx context.Context, loader Loader, candidates []domain.CandidateLocation) (domain.CandidateLocation, error) {
	start := time.Now()
	failure := &domain.ResolveError{}

	for i, loc := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		r.logger.Debug("attempting audio source", "location", loc, "attempt", i+1, "of", len(candidates))

		err := r.attempt(ctx, loader, loc)
		if err == nil {
			r.logger.Info("audio source ready", "location", loc, "attempt", i+1)
			r.metrics.RecordResolveAttempt("ok")
			r.metrics.RecordResolve(time.Since(start), true)
			return loc, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		outcome := "error"
		if errors.Is(err, errLoadTimeout) {
			outcome = "timeout"
		}
		r.logger.Warn("audio source failed", "location", loc, "outcome", outcome, "error", err)
		r.metrics.RecordResolveAttempt(outcome)
		failure.Attempts = append(failure.Attempts, domain.AttemptError{Location: loc, Err: err})
	}

	r.metrics.RecordResolve(time.Since(start), false)
	return "", failure
}

func (r *Resolver) attempt(ctx context.Context, loader Loader, loc domain.CandidateLocation) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- loader.Load(attemptCtx, loc)
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("loading: %w", err)
		}
		return nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", errLoadTimeout, r.timeout)
	}
}
