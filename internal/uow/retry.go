package uow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/telemetry"
)

// RetryConfig bounds RetryOnConflict.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c *RetryConfig) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = 20 * time.Millisecond
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 500 * time.Millisecond
	}
}

// RetryOnConflict runs fn until it returns something other than a Conflict
// error or the attempts are used up. fn must begin a fresh unit of work and
// reload its entities on every call. Commit never retries by itself.
func RetryOnConflict(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg.ApplyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	metrics := telemetry.GetMetrics()
	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if apperr.HasKind(err, apperr.KindConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.ConflictRetriesTotal.Add(ctx, 1)
			log.Ctx(ctx).Debug().Err(err).Int("attempt", attempt).Dur("next", next).Msg("Retrying after conflict")
		}),
	)

	return err
}
