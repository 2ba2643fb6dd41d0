// Package pipeline wraps command and query handlers with a validation stage
// and a logging stage.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/result"
	"github.com/wolfeidau/stockroom/internal/telemetry"
	"github.com/wolfeidau/stockroom/internal/tenant"
)

// DefaultSlowThreshold is the elapsed time above which a request is logged
// as slow.
const DefaultSlowThreshold = 500 * time.Millisecond

// Handler executes a command or query. A returned error is reserved for
// infrastructure failures; business failures travel in the outcome.
type Handler[Req any, Out result.Failable[Out]] func(ctx context.Context, req Req) (Out, error)

// Validator checks a request before the handler runs. A nil return passes.
type Validator[Req any] func(ctx context.Context, req Req) *apperr.Error

// Validatable requests validate their own structure.
type Validatable interface {
	Validate() *apperr.Error
}

type requestType string

const (
	typeCommand requestType = "command"
	typeQuery   requestType = "query"
)

// Pipeline holds the shared configuration of the stages.
type Pipeline struct {
	logger        zerolog.Logger
	slowThreshold time.Duration
	metrics       *telemetry.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSlowThreshold overrides DefaultSlowThreshold.
func WithSlowThreshold(d time.Duration) Option {
	return func(p *Pipeline) { p.slowThreshold = d }
}

// New creates a pipeline logging to logger.
func New(logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:        logger,
		slowThreshold: DefaultSlowThreshold,
		metrics:       telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Command wraps a mutating handler.
func Command[Req any, Out result.Failable[Out]](p *Pipeline, name string, h Handler[Req, Out], validators ...Validator[Req]) Handler[Req, Out] {
	return wrap(p, typeCommand, name, h, validators)
}

// Query wraps a read-only handler.
func Query[Req any, Out result.Failable[Out]](p *Pipeline, name string, h Handler[Req, Out], validators ...Validator[Req]) Handler[Req, Out] {
	return wrap(p, typeQuery, name, h, validators)
}

func wrap[Req any, Out result.Failable[Out]](p *Pipeline, typ requestType, name string, h Handler[Req, Out], validators []Validator[Req]) Handler[Req, Out] {
	logged := logging(p, typ, name, h)
	return validation(p, typ, name, logged, validators)
}

// validation short-circuits with a failure outcome; the handler never runs.
func validation[Req any, Out result.Failable[Out]](p *Pipeline, typ requestType, name string, next Handler[Req, Out], validators []Validator[Req]) Handler[Req, Out] {
	return func(ctx context.Context, req Req) (Out, error) {
		verr := validate(ctx, req, validators)
		if verr == nil {
			return next(ctx, req)
		}

		p.metrics.ValidationFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("request", name),
			attribute.String("type", string(typ)),
		))
		p.logger.Debug().
			Str("request", name).
			Str("type", string(typ)).
			Str("code", verr.Code).
			Str("tenant_id", tenant.FromContext(ctx).String()).
			Msg("Request failed validation")

		var zero Out
		return zero.FailWith(verr), nil
	}
}

func validate[Req any](ctx context.Context, req Req, validators []Validator[Req]) *apperr.Error {
	if v, ok := any(req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	for _, fn := range validators {
		if err := fn(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// logging records start, elapsed time and outcome. Errors are logged and
// returned; panics are logged and re-raised.
func logging[Req any, Out result.Failable[Out]](p *Pipeline, typ requestType, name string, next Handler[Req, Out]) Handler[Req, Out] {
	return func(ctx context.Context, req Req) (out Out, err error) {
		logger := p.logger.With().
			Str("request", name).
			Str("type", string(typ)).
			Str("tenant_id", tenant.FromContext(ctx).String()).
			Logger()

		started := time.Now()
		logger.Debug().Msg("Handling request")

		defer func() {
			elapsed := time.Since(started)
			outcome := "success"

			if r := recover(); r != nil {
				p.record(ctx, typ, name, "panic", elapsed)
				logger.Error().
					Str("panic", fmt.Sprint(r)).
					Dur("elapsed", elapsed).
					Msg("Request handler panicked")
				panic(r)
			}

			switch {
			case err != nil:
				outcome = "error"
				logger.Error().Err(err).Dur("elapsed", elapsed).Msg("Request failed unexpectedly")
			case !out.IsSuccess():
				outcome = "failure"
				logger.Info().
					Str("kind", string(out.Err().Kind)).
					Str("code", out.Err().Code).
					Dur("elapsed", elapsed).
					Msg("Request completed with failure")
			default:
				logger.Info().Dur("elapsed", elapsed).Msg("Request completed")
			}

			if p.slowThreshold > 0 && elapsed > p.slowThreshold {
				p.metrics.SlowRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("request", name)))
				logger.Warn().
					Dur("elapsed", elapsed).
					Dur("threshold", p.slowThreshold).
					Msg("Slow request")
			}

			p.record(ctx, typ, name, outcome, elapsed)
		}()

		return next(ctx, req)
	}
}

func (p *Pipeline) record(ctx context.Context, typ requestType, name, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("request", name),
		attribute.String("type", string(typ)),
		attribute.String("outcome", outcome),
	)
	p.metrics.RequestsTotal.Add(ctx, 1, attrs)
	p.metrics.RequestDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}
