package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the genesis engine
type MetricsCollector struct {
	meter metric.Meter

	// Dispatch metrics
	dispatchRequests metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	dispatchActive   metric.Int64UpDownCounter
	dispatchTimeouts metric.Int64Counter

	// Protection metrics
	rateLimitRejections metric.Int64Counter
	circuitRejections   metric.Int64Counter
	circuitTransitions  metric.Int64Counter

	// Workflow metrics
	workflowSteps    metric.Int64Counter
	workflowDuration metric.Float64Histogram

	// Deployment metrics
	deployCommands metric.Int64Counter
	deployDuration metric.Float64Histogram

	// HTTP metrics
	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	// Create meter provider
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	// Get meter
	meter := provider.Meter("genesis")

	// Create metrics
	dispatchRequests, err := meter.Int64Counter(
		"genesis.dispatch.requests.total",
		metric.WithDescription("Total number of dispatched requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_requests counter: %w", err)
	}

	dispatchDuration, err := meter.Float64Histogram(
		"genesis.dispatch.duration",
		metric.WithDescription("Request dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_duration histogram: %w", err)
	}

	dispatchActive, err := meter.Int64UpDownCounter(
		"genesis.dispatch.active",
		metric.WithDescription("Number of requests currently in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_active gauge: %w", err)
	}

	dispatchTimeouts, err := meter.Int64Counter(
		"genesis.dispatch.timeouts.total",
		metric.WithDescription("Total number of requests that hit their deadline"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_timeouts counter: %w", err)
	}

	rateLimitRejections, err := meter.Int64Counter(
		"genesis.ratelimit.rejections.total",
		metric.WithDescription("Total number of requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit_rejections counter: %w", err)
	}

	circuitRejections, err := meter.Int64Counter(
		"genesis.circuit.rejections.total",
		metric.WithDescription("Total number of requests rejected by open circuit breakers"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit_rejections counter: %w", err)
	}

	circuitTransitions, err := meter.Int64Counter(
		"genesis.circuit.transitions.total",
		metric.WithDescription("Total number of circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit_transitions counter: %w", err)
	}

	workflowSteps, err := meter.Int64Counter(
		"genesis.workflow.steps.total",
		metric.WithDescription("Total number of executed workflow steps"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_steps counter: %w", err)
	}

	workflowDuration, err := meter.Float64Histogram(
		"genesis.workflow.duration",
		metric.WithDescription("Workflow execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_duration histogram: %w", err)
	}

	deployCommands, err := meter.Int64Counter(
		"genesis.deploy.commands.total",
		metric.WithDescription("Total number of executed deployment commands"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deploy_commands counter: %w", err)
	}

	deployDuration, err := meter.Float64Histogram(
		"genesis.deploy.duration",
		metric.WithDescription("Deployment duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deploy_duration histogram: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"genesis.http.requests.total",
		metric.WithDescription("Total number of handled HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests counter: %w", err)
	}

	httpDuration, err := meter.Float64Histogram(
		"genesis.http.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_duration histogram: %w", err)
	}

	collector := &MetricsCollector{
		meter:               meter,
		dispatchRequests:    dispatchRequests,
		dispatchDuration:    dispatchDuration,
		dispatchActive:      dispatchActive,
		dispatchTimeouts:    dispatchTimeouts,
		rateLimitRejections: rateLimitRejections,
		circuitRejections:   circuitRejections,
		circuitTransitions:  circuitTransitions,
		workflowSteps:       workflowSteps,
		workflowDuration:    workflowDuration,
		deployCommands:      deployCommands,
		deployDuration:      deployDuration,
		httpRequests:        httpRequests,
		httpDuration:        httpDuration,
	}

	// Start Prometheus HTTP server
	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// Handler returns the Prometheus scrape handler for embedding into an
// existing HTTP server.
func (m *MetricsCollector) Handler() http.Handler {
	return promclient.Handler()
}

// StartPrometheusServer starts a standalone Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordDispatch records a completed request dispatch
func (m *MetricsCollector) RecordDispatch(ctx context.Context, agent, action, status string, duration time.Duration) {
	if m.dispatchRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("agent", agent),
		attribute.String("action", action),
		attribute.String("status", status),
	}

	m.dispatchRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("action", action),
	))
}

// RecordTimeout records a request that exceeded its deadline
func (m *MetricsCollector) RecordTimeout(ctx context.Context, agent string) {
	if m.dispatchTimeouts == nil {
		return
	}
	m.dispatchTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// RecordRateLimitRejection records a request rejected by the per-sender limiter
func (m *MetricsCollector) RecordRateLimitRejection(ctx context.Context, sender string) {
	if m.rateLimitRejections == nil {
		return
	}
	m.rateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("sender", sender)))
}

// RecordCircuitRejection records a request rejected by an open circuit breaker
func (m *MetricsCollector) RecordCircuitRejection(ctx context.Context, agent string) {
	if m.circuitRejections == nil {
		return
	}
	m.circuitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// RecordCircuitTransition records a circuit breaker state change
func (m *MetricsCollector) RecordCircuitTransition(ctx context.Context, name, from, to string) {
	if m.circuitTransitions == nil {
		return
	}
	m.circuitTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordWorkflowStep records the outcome of a single workflow step
func (m *MetricsCollector) RecordWorkflowStep(ctx context.Context, workflow, step, status string) {
	if m.workflowSteps == nil {
		return
	}
	m.workflowSteps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("step", step),
		attribute.String("status", status),
	))
}

// RecordWorkflow records a completed workflow run
func (m *MetricsCollector) RecordWorkflow(ctx context.Context, workflow, status string, duration time.Duration) {
	if m.workflowDuration == nil {
		return
	}
	m.workflowDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("status", status),
	))
}

// RecordDeployCommand records an executed deployment command
func (m *MetricsCollector) RecordDeployCommand(ctx context.Context, target, status string) {
	if m.deployCommands == nil {
		return
	}
	m.deployCommands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("status", status),
	))
}

// RecordDeploy records a completed deployment attempt
func (m *MetricsCollector) RecordDeploy(ctx context.Context, target, status string, duration time.Duration) {
	if m.deployDuration == nil {
		return
	}
	m.deployDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("status", status),
	))
}

// RecordHTTPRequest records a handled HTTP request
func (m *MetricsCollector) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// IncrementActiveRequests increments the in-flight request counter
func (m *MetricsCollector) IncrementActiveRequests(ctx context.Context) {
	if m.dispatchActive == nil {
		return
	}
	m.dispatchActive.Add(ctx, 1)
}

// DecrementActiveRequests decrements the in-flight request counter
func (m *MetricsCollector) DecrementActiveRequests(ctx context.Context) {
	if m.dispatchActive == nil {
		return
	}
	m.dispatchActive.Add(ctx, -1)
}
