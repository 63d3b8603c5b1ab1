// Package observe provides application-wide observability primitives for
// wavepool: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all wavepool metrics.
const meterName = "github.com/wavepool/wavepool"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RESTDuration tracks REST call latency against a node.
	RESTDuration metric.Float64Histogram

	// NodeConnectDuration tracks WebSocket dial + ready latency per node.
	NodeConnectDuration metric.Float64Histogram

	// AutoplayDuration tracks autoplay resolution latency.
	AutoplayDuration metric.Float64Histogram

	// --- Counters ---

	// RESTRequests counts REST calls by node, operation, and status.
	RESTRequests metric.Int64Counter

	// NodeReconnects counts reconnect attempts by node.
	NodeReconnects metric.Int64Counter

	// QueueMutations counts queue mutations by change type.
	QueueMutations metric.Int64Counter

	// AutoplayResolutions counts autoplay resolutions by platform and outcome
	// ("hit" or "miss").
	AutoplayResolutions metric.Int64Counter

	// PlayerMigrations counts player migrations between nodes.
	PlayerMigrations metric.Int64Counter

	// --- Error counters ---

	// NodeErrors counts node-level failures by node and reason.
	NodeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveNodes tracks the number of currently connected nodes.
	ActiveNodes metric.Int64UpDownCounter

	// ActivePlayers tracks the number of live players across all nodes.
	ActivePlayers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for node REST/WebSocket round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RESTDuration, err = m.Float64Histogram("wavepool.rest.duration",
		metric.WithDescription("Latency of REST calls against an audio node."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NodeConnectDuration, err = m.Float64Histogram("wavepool.node.connect.duration",
		metric.WithDescription("Latency from WebSocket dial to ready op for a node."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AutoplayDuration, err = m.Float64Histogram("wavepool.autoplay.duration",
		metric.WithDescription("Latency of autoplay recommendation resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RESTRequests, err = m.Int64Counter("wavepool.rest.requests",
		metric.WithDescription("Total REST calls by node, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.NodeReconnects, err = m.Int64Counter("wavepool.node.reconnects",
		metric.WithDescription("Total reconnect attempts by node."),
	); err != nil {
		return nil, err
	}
	if met.QueueMutations, err = m.Int64Counter("wavepool.queue.mutations",
		metric.WithDescription("Total queue mutations by change type."),
	); err != nil {
		return nil, err
	}
	if met.AutoplayResolutions, err = m.Int64Counter("wavepool.autoplay.resolutions",
		metric.WithDescription("Total autoplay resolutions by platform and outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlayerMigrations, err = m.Int64Counter("wavepool.player.migrations",
		metric.WithDescription("Total player migrations between nodes."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.NodeErrors, err = m.Int64Counter("wavepool.node.errors",
		metric.WithDescription("Total node-level failures by node and reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveNodes, err = m.Int64UpDownCounter("wavepool.active_nodes",
		metric.WithDescription("Number of currently connected nodes."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlayers, err = m.Int64UpDownCounter("wavepool.active_players",
		metric.WithDescription("Number of live players across all nodes."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wavepool.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRESTRequest is a convenience method that records a REST call counter
// increment with the standard attribute set.
func (m *Metrics) RecordRESTRequest(ctx context.Context, node, operation, status string) {
	m.RESTRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("node", node),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordQueueMutation is a convenience method that records a queue mutation
// counter increment.
func (m *Metrics) RecordQueueMutation(ctx context.Context, changeType string) {
	m.QueueMutations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("change_type", changeType)),
	)
}

// RecordAutoplayResolution is a convenience method that records an autoplay
// resolution counter increment.
func (m *Metrics) RecordAutoplayResolution(ctx context.Context, platform, outcome string) {
	m.AutoplayResolutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("platform", platform),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordNodeError is a convenience method that records a node error counter
// increment.
func (m *Metrics) RecordNodeError(ctx context.Context, node, reason string) {
	m.NodeErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("node", node),
			attribute.String("reason", reason),
		),
	)
}
