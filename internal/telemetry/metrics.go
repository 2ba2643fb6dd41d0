package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/stockroom"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Unit of work metrics
	CommitsTotal          metric.Int64Counter
	CommitFailuresTotal   metric.Int64Counter
	CommitDuration        metric.Float64Histogram
	ChangesPersistedTotal metric.Int64Counter
	VersionConflictsTotal metric.Int64Counter
	ConflictRetriesTotal  metric.Int64Counter

	// Domain event metrics
	EventsCapturedTotal     metric.Int64Counter
	EventsDiscardedTotal    metric.Int64Counter
	EventsDispatchedTotal   metric.Int64Counter
	EventHandlerErrorsTotal metric.Int64Counter
	EventHandlerPanicsTotal metric.Int64Counter
	EventDispatchDuration   metric.Float64Histogram

	// Command/query pipeline metrics
	RequestsTotal      metric.Int64Counter
	RequestDuration    metric.Float64Histogram
	SlowRequestsTotal  metric.Int64Counter
	ValidationFailures metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.CommitsTotal, _ = meter.Int64Counter(
		"stockroom.uow.commits.total",
		metric.WithDescription("Total number of units of work committed"),
		metric.WithUnit("{commit}"),
	)

	m.CommitFailuresTotal, _ = meter.Int64Counter(
		"stockroom.uow.commit_failures.total",
		metric.WithDescription("Total number of commits that failed before or during persistence"),
		metric.WithUnit("{commit}"),
	)

	m.CommitDuration, _ = meter.Float64Histogram(
		"stockroom.uow.commit.duration",
		metric.WithDescription("Duration of the commit pipeline including persistence"),
		metric.WithUnit("ms"),
	)

	m.ChangesPersistedTotal, _ = meter.Int64Counter(
		"stockroom.uow.changes_persisted.total",
		metric.WithDescription("Total number of record changes written by the storage engine"),
		metric.WithUnit("{change}"),
	)

	m.VersionConflictsTotal, _ = meter.Int64Counter(
		"stockroom.uow.version_conflicts.total",
		metric.WithDescription("Total number of commits rejected by optimistic concurrency"),
		metric.WithUnit("{conflict}"),
	)

	m.ConflictRetriesTotal, _ = meter.Int64Counter(
		"stockroom.uow.conflict_retries.total",
		metric.WithDescription("Total number of load-modify-commit retries after a conflict"),
		metric.WithUnit("{retry}"),
	)

	m.EventsCapturedTotal, _ = meter.Int64Counter(
		"stockroom.events.captured.total",
		metric.WithDescription("Total number of domain events drained from entities at commit"),
		metric.WithUnit("{event}"),
	)

	m.EventsDiscardedTotal, _ = meter.Int64Counter(
		"stockroom.events.discarded.total",
		metric.WithDescription("Total number of captured events discarded because persistence failed"),
		metric.WithUnit("{event}"),
	)

	m.EventsDispatchedTotal, _ = meter.Int64Counter(
		"stockroom.events.dispatched.total",
		metric.WithDescription("Total number of domain events delivered to handlers"),
		metric.WithUnit("{event}"),
	)

	m.EventHandlerErrorsTotal, _ = meter.Int64Counter(
		"stockroom.events.handler_errors.total",
		metric.WithDescription("Total number of event handler errors"),
		metric.WithUnit("{error}"),
	)

	m.EventHandlerPanicsTotal, _ = meter.Int64Counter(
		"stockroom.events.handler_panics.total",
		metric.WithDescription("Total number of recovered event handler panics"),
		metric.WithUnit("{panic}"),
	)

	m.EventDispatchDuration, _ = meter.Float64Histogram(
		"stockroom.events.dispatch.duration",
		metric.WithDescription("Duration of post-commit event dispatch"),
		metric.WithUnit("ms"),
	)

	m.RequestsTotal, _ = meter.Int64Counter(
		"stockroom.pipeline.requests.total",
		metric.WithDescription("Total number of commands and queries handled"),
		metric.WithUnit("{request}"),
	)

	m.RequestDuration, _ = meter.Float64Histogram(
		"stockroom.pipeline.request.duration",
		metric.WithDescription("Duration of command and query handlers"),
		metric.WithUnit("ms"),
	)

	m.SlowRequestsTotal, _ = meter.Int64Counter(
		"stockroom.pipeline.slow_requests.total",
		metric.WithDescription("Total number of requests exceeding the slow threshold"),
		metric.WithUnit("{request}"),
	)

	m.ValidationFailures, _ = meter.Int64Counter(
		"stockroom.pipeline.validation_failures.total",
		metric.WithDescription("Total number of requests rejected by validation"),
		metric.WithUnit("{request}"),
	)

	return m
}
