package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/jobs take
// - Traffic: Request/job throughput
// - Errors: Rate of failures
// - Saturation: Resource utilization (concurrent jobs/requests)
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics (Latency, Traffic, Errors, Saturation)
	JobDuration    metric.Float64Histogram
	JobsSubmitted  metric.Int64Counter
	JobsRetried    metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsActive     metric.Int64UpDownCounter

	// Queue metrics (Traffic, Saturation)
	QueueDepth    metric.Int64Gauge
	QueueRejected metric.Int64Counter

	// Stream metrics (Saturation)
	StreamsActive metric.Int64UpDownCounter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("classifier")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Job metrics
	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Classification attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 240, 300),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted_total",
		metric.WithDescription("Total number of jobs submitted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsRetried, err = meter.Int64Counter(
		"jobs_retried_total",
		metric.WithDescription("Total number of retry submissions"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"job_errors_total",
		metric.WithDescription("Total number of failed attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of attempts currently executing (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Queue metrics
	m.QueueDepth, err = meter.Int64Gauge(
		"queue_depth",
		metric.WithDescription("Current number of buffered tasks (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.QueueRejected, err = meter.Int64Counter(
		"queue_rejected_total",
		metric.WithDescription("Total tasks rejected because the buffer was full"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Stream metrics
	m.StreamsActive, err = meter.Int64UpDownCounter(
		"streams_active",
		metric.WithDescription("Number of status streams currently open (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobSubmitted records a new job being submitted.
func (m *Metrics) RecordJobSubmitted(ctx context.Context) {
	m.JobsSubmitted.Add(ctx, 1)
}

// RecordJobRetried records a retry submission.
func (m *Metrics) RecordJobRetried(ctx context.Context) {
	m.JobsRetried.Add(ctx, 1)
}

// RecordJobStarted records an attempt entering execution.
func (m *Metrics) RecordJobStarted(ctx context.Context) {
	m.JobsActive.Add(ctx, 1)
}

// RecordJobFinished records an attempt leaving execution.
func (m *Metrics) RecordJobFinished(ctx context.Context) {
	m.JobsActive.Add(ctx, -1)
}

// RecordJobCompleted records a successful attempt with its duration.
func (m *Metrics) RecordJobCompleted(ctx context.Context, durationSeconds float64) {
	m.JobDuration.Record(ctx, durationSeconds, metric.WithAttributes(successAttr(true)))
}

// RecordJobFailed records a failed attempt with its duration.
func (m *Metrics) RecordJobFailed(ctx context.Context, durationSeconds float64) {
	attrs := metric.WithAttributes(successAttr(false))
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobErrorsTotal.Add(ctx, 1, attrs)
}

// RecordQueueDepth records the current queue depth.
func (m *Metrics) RecordQueueDepth(ctx context.Context, depth int64) {
	m.QueueDepth.Record(ctx, depth)
}

// RecordQueueRejected records a rejected task.
func (m *Metrics) RecordQueueRejected(ctx context.Context) {
	m.QueueRejected.Add(ctx, 1)
}

// RecordStreamOpened records a status stream being opened.
func (m *Metrics) RecordStreamOpened(ctx context.Context) {
	m.StreamsActive.Add(ctx, 1)
}

// RecordStreamClosed records a status stream ending.
func (m *Metrics) RecordStreamClosed(ctx context.Context) {
	m.StreamsActive.Add(ctx, -1)
}
