package espn

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/game-alerts/internal/domain"
)

const (
	defaultRetryAttempts = 2
	defaultBackoff       = 250 * time.Millisecond
)

// retryingProvider wraps a Provider with exponential backoff
type retryingProvider struct {
	inner      Provider
	logger     *slog.Logger
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewRetryingProvider retries failed fetches up to maxRetries extra times
// Client errors other than 429 are not retried
func NewRetryingProvider(inner Provider, logger *slog.Logger, maxRetries int, initial time.Duration) Provider {
	if maxRetries < 0 {
		maxRetries = defaultRetryAttempts
	}
	if initial <= 0 {
		initial = defaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingProvider{
		inner:      inner,
		logger:     logger,
		maxRetries: uint64(maxRetries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = 8 * initial
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}
}

func (r *retryingProvider) Scoreboard(ctx context.Context, league domain.League) ([]domain.Game, error) {
	return retry(ctx, r, func() ([]domain.Game, error) {
		return r.inner.Scoreboard(ctx, league)
	}, "league", league)
}

func (r *retryingProvider) ScoringPlays(ctx context.Context, league domain.League, gameID string) ([]domain.ScoringPlay, error) {
	return retry(ctx, r, func() ([]domain.ScoringPlay, error) {
		return r.inner.ScoringPlays(ctx, league, gameID)
	}, "league", league, "game_id", gameID)
}

func retry[T any](ctx context.Context, r *retryingProvider, fetch func() (T, error), logArgs ...any) (T, error) {
	op := func() (T, error) {
		out, err := fetch()
		if err != nil && !retryable(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, delay time.Duration) {
		r.logger.Warn("provider fetch retry", append(logArgs, "delay", delay, "error", err)...)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxRetries), ctx)
	return backoff.RetryNotifyWithData(op, b, notify)
}

func retryable(err error) bool {
	fetchErr, ok := domain.AsUpstreamFetchError(err)
	if !ok {
		return true
	}
	if fetchErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return fetchErr.StatusCode < 400 || fetchErr.StatusCode >= 500
}
