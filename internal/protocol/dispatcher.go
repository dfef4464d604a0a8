package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	genesiserrors "genesis/internal/errors"
	"genesis/internal/observability"
)

// Dispatch layer defaults. All of them are overridable per instance.
const (
	DefaultMaxConcurrent = 64
	DefaultRateLimitRPS  = 100
	DefaultHistorySize   = 1000

	// stopDrainTimeout bounds how long Stop waits for in-flight dispatches.
	stopDrainTimeout = 5 * time.Second

	// senderLimiterTTL and senderLimiterMax bound the per-sender limiter map.
	senderLimiterTTL = 10 * time.Minute
	senderLimiterMax = 1024
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxConcurrent caps the number of requests handled at once.
func WithMaxConcurrent(n int64) Option {
	return func(d *Dispatcher) { d.maxConcurrent = n }
}

// WithDefaultTimeout sets the timeout stamped on requests built by Send,
// SendWithRetry and Broadcast. Zero keeps the protocol default.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.defaultTimeout = timeout }
}

// WithRateLimit sets the per-sender token bucket rate and burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(d *Dispatcher) {
		d.rateRPS = rps
		d.rateBurst = burst
	}
}

// WithHistorySize sets the capacity of the retained Result history.
func WithHistorySize(n int) Option {
	return func(d *Dispatcher) { d.historySize = n }
}

// WithBreakerConfig tunes the per-target circuit breakers. A caller-supplied
// OnStateChange hook runs after the dispatcher's own bookkeeping.
func WithBreakerConfig(cfg genesiserrors.CircuitBreakerConfig) Option {
	return func(d *Dispatcher) { d.breakerConfig = cfg }
}

// WithRetryConfig tunes the SendWithRetry policy.
func WithRetryConfig(cfg genesiserrors.RetryConfig) Option {
	return func(d *Dispatcher) { d.retryConfig = cfg }
}

// WithMetricsCollector wires dispatch metrics into the given collector.
func WithMetricsCollector(mc *observability.MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = mc }
}

// WithTracerProvider wires dispatch spans into the given provider.
func WithTracerProvider(tp *observability.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp }
}

// senderLimiter tracks one sender's token bucket and its last use, so idle
// entries can be pruned.
type senderLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// counters holds the dispatch statistics, updated lock-free.
type counters struct {
	requestsDispatched  atomic.Int64
	responsesSucceeded  atomic.Int64
	responsesFailed     atomic.Int64
	timeouts            atomic.Int64
	rateLimitHits       atomic.Int64
	circuitBreakerTrips atomic.Int64
	retries             atomic.Int64
	totalLatency        atomic.Int64
}

// Stats is a point-in-time snapshot of dispatcher throughput.
type Stats struct {
	RequestsDispatched  int64         `json:"requests_dispatched"`
	ResponsesSucceeded  int64         `json:"responses_succeeded"`
	ResponsesFailed     int64         `json:"responses_failed"`
	Timeouts            int64         `json:"timeouts"`
	RateLimitHits       int64         `json:"rate_limit_hits"`
	CircuitBreakerTrips int64         `json:"circuit_breaker_trips"`
	Retries             int64         `json:"retries"`
	AverageLatency      time.Duration `json:"average_latency"`
}

// Dispatcher routes Requests to registered agents. It enforces per-sender
// rate limits, per-target circuit breaking and a bounded worker pool, and
// always produces exactly one Result per Request.
type Dispatcher struct {
	registry *Registry

	maxConcurrent  int64
	defaultTimeout time.Duration
	rateRPS        float64
	rateBurst      int
	historySize    int
	breakerConfig  genesiserrors.CircuitBreakerConfig
	retryConfig    genesiserrors.RetryConfig

	running  atomic.Bool
	pool     *semaphore.Weighted
	breakers *genesiserrors.CircuitBreakerManager

	limiterMu sync.Mutex
	limiters  map[string]*senderLimiter

	history *lru.Cache[string, Result]
	stats   counters

	metrics      *observability.MetricsCollector
	protoMetrics *observability.ProtocolMetrics
	tracer       *observability.TracerProvider
	logger       *observability.Logger
}

// NewDispatcher builds a stopped Dispatcher over the given registry. Call
// Start before dispatching.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:      registry,
		maxConcurrent: DefaultMaxConcurrent,
		rateRPS:       DefaultRateLimitRPS,
		historySize:   DefaultHistorySize,
		breakerConfig: genesiserrors.DefaultCircuitBreakerConfig(),
		retryConfig:   genesiserrors.DefaultRetryConfig(),
		limiters:      make(map[string]*senderLimiter),
		protoMetrics:  observability.NewProtocolMetrics(),
		logger:        observability.NewComponentLogger("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.maxConcurrent <= 0 {
		d.maxConcurrent = DefaultMaxConcurrent
	}
	if d.rateRPS <= 0 {
		d.rateRPS = DefaultRateLimitRPS
	}
	if d.rateBurst <= 0 {
		d.rateBurst = int(d.rateRPS)
	}
	if d.historySize <= 0 {
		d.historySize = DefaultHistorySize
	}
	if d.metrics == nil {
		d.metrics, _ = observability.NewMetricsCollector(observability.MetricsConfig{})
	}
	if d.tracer == nil {
		d.tracer, _ = observability.NewTracerProvider(observability.TracingConfig{})
	}

	d.pool = semaphore.NewWeighted(d.maxConcurrent)
	d.history, _ = lru.New[string, Result](d.historySize)

	callerHook := d.breakerConfig.OnStateChange
	d.breakerConfig.OnStateChange = func(from, to genesiserrors.CircuitState, name string) {
		d.onBreakerStateChange(from, to, name)
		if callerHook != nil {
			callerHook(from, to, name)
		}
	}
	d.breakers = genesiserrors.NewCircuitBreakerManager(d.breakerConfig)

	return d
}

// Start marks the dispatcher as accepting requests. Calling Start on a
// running dispatcher has no further effect.
func (d *Dispatcher) Start() {
	if d.running.CompareAndSwap(false, true) {
		d.logger.Info("dispatcher started",
			"max_concurrent", d.maxConcurrent,
			"rate_limit_rps", d.rateRPS)
	}
}

// Stop marks the dispatcher non-accepting and waits, bounded, for in-flight
// dispatches to drain. Calling Stop on a stopped dispatcher has no effect.
func (d *Dispatcher) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopDrainTimeout)
	defer cancel()
	if err := d.pool.Acquire(ctx, d.maxConcurrent); err != nil {
		d.logger.Warn("dispatcher stopped before in-flight requests drained", "error", err)
	} else {
		d.pool.Release(d.maxConcurrent)
	}
	d.logger.Info("dispatcher stopped")
}

// Running reports whether the dispatcher accepts requests.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Registry returns the agent registry this dispatcher routes over.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// RegisterHandler resolves the agent and registers the handler on it.
func (d *Dispatcher) RegisterHandler(agentID, action string, handler Handler) error {
	agent, err := d.registry.Get(agentID)
	if err != nil {
		return err
	}
	agent.RegisterHandler(action, handler)
	return nil
}

// Dispatch routes the request through the admission chain (running check,
// target resolution, sender rate limit, target breaker, worker slot) to the
// target agent and returns its Result. Every call yields exactly one Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) Result {
	if req == nil {
		return FailureResult("", &genesiserrors.ValidationError{Field: "request", Reason: "must not be nil"}, 0)
	}

	ctx = observability.ContextWithRequestID(ctx, req.ID)
	ctx, span := d.tracer.StartSpan(ctx, observability.SpanDispatch, observability.AgentAttrs(req.Target, req.Action)...)
	defer span.End()

	result := d.dispatch(ctx, req)

	status := "success"
	if !result.Success {
		status = "error"
		if result.Error != nil {
			status = string(result.Error.Kind)
		}
	}
	span.SetAttributes(observability.StatusAttrs(status)...)
	d.record(ctx, req, result, status)
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) Result {
	start := time.Now()

	if !d.running.Load() {
		return FailureResult(req.ID, &genesiserrors.ValidationError{Reason: "dispatcher not running"}, time.Since(start))
	}

	agent, err := d.registry.Get(req.Target)
	if err != nil {
		return FailureResult(req.ID, err, time.Since(start))
	}

	if !d.allowSender(req.Sender) {
		d.stats.rateLimitHits.Add(1)
		d.metrics.RecordRateLimitRejection(ctx, req.Sender)
		return FailureResult(req.ID, &genesiserrors.RateLimitError{Agent: req.Sender}, time.Since(start))
	}

	breaker := d.breakers.Get(req.Target)
	if err := breaker.Allow(); err != nil {
		d.metrics.RecordCircuitRejection(ctx, req.Target)
		return FailureResult(req.ID, err, time.Since(start))
	}

	// A worker slot must come free within the request deadline, otherwise
	// queueing would silently extend the caller's timeout.
	acquireCtx, cancel := context.WithTimeout(ctx, req.EffectiveTimeout())
	defer cancel()
	if err := d.pool.Acquire(acquireCtx, 1); err != nil {
		return FailureResult(req.ID, genesiserrors.NewTimeoutError("dispatch", req.EffectiveTimeout()), time.Since(start))
	}
	defer d.pool.Release(1)

	d.metrics.IncrementActiveRequests(ctx)
	defer d.metrics.DecrementActiveRequests(ctx)

	result := agent.HandleRequest(ctx, req)

	var failure error
	if !result.Success {
		failure = result.Error.Err()
		if failure == nil {
			failure = errors.New("handler failed")
		}
	}
	breaker.Mark(failure)

	return result
}

func (d *Dispatcher) record(ctx context.Context, req *Request, result Result, status string) {
	d.stats.requestsDispatched.Add(1)
	d.stats.totalLatency.Add(int64(result.Elapsed))
	if result.Success {
		d.stats.responsesSucceeded.Add(1)
	} else {
		d.stats.responsesFailed.Add(1)
		if result.Error != nil && result.Error.Kind == genesiserrors.KindTimeout {
			d.stats.timeouts.Add(1)
			d.metrics.RecordTimeout(ctx, req.Target)
		}
	}
	d.metrics.RecordDispatch(ctx, req.Target, req.Action, status, result.Elapsed)

	if evicted := d.history.Add(result.RequestID, result); evicted {
		d.protoMetrics.RecordHistoryEviction()
	}

	d.logger.DebugContext(ctx, "request dispatched",
		"sender", req.Sender,
		"target", req.Target,
		"action", req.Action,
		"status", status,
		"elapsed", result.Elapsed)
}

// allowSender consumes one token from the sender's bucket, creating the
// bucket on first use. Idle buckets are pruned once the map grows large.
func (d *Dispatcher) allowSender(sender string) bool {
	d.limiterMu.Lock()
	defer d.limiterMu.Unlock()

	entry, ok := d.limiters[sender]
	if !ok {
		entry = &senderLimiter{limiter: rate.NewLimiter(rate.Limit(d.rateRPS), d.rateBurst)}
		d.limiters[sender] = entry
		if len(d.limiters) > senderLimiterMax {
			d.pruneLimitersLocked()
		}
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (d *Dispatcher) pruneLimitersLocked() {
	cutoff := time.Now().Add(-senderLimiterTTL)
	for sender, entry := range d.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(d.limiters, sender)
		}
	}
}

func (d *Dispatcher) onBreakerStateChange(from, to genesiserrors.CircuitState, name string) {
	if to == genesiserrors.StateOpen {
		d.stats.circuitBreakerTrips.Add(1)
	}
	d.metrics.RecordCircuitTransition(context.Background(), name, from.String(), to.String())
	d.logger.Warn("circuit state changed", "agent", name, "from", from.String(), "to", to.String())
}

// newRequest builds a Request stamped with the dispatcher's default timeout.
func (d *Dispatcher) newRequest(sender, target, action string, payload map[string]any) *Request {
	req := NewRequest(sender, target, action, payload)
	if d.defaultTimeout > 0 {
		req.Timeout = d.defaultTimeout
	}
	return req
}

// Send builds a Request with the default timeout and dispatches it.
func (d *Dispatcher) Send(ctx context.Context, sender, target, action string, payload map[string]any) Result {
	return d.Dispatch(ctx, d.newRequest(sender, target, action, payload))
}

// SendWithRetry dispatches like Send, retrying per the configured policy
// when the failure is retryable (timeouts, connection errors, temporary
// conditions). Rate-limit and circuit-open rejections are never retried;
// the limiter refill and the breaker recovery window govern those. The
// returned Result is the last attempt's.
func (d *Dispatcher) SendWithRetry(ctx context.Context, sender, target, action string, payload map[string]any) Result {
	var last Result
	attempts := 0

	result, err := genesiserrors.RetryWithResult(ctx, d.retryConfig, func(ctx context.Context) (Result, error) {
		attempts++
		res := d.Dispatch(ctx, d.newRequest(sender, target, action, payload))
		last = res
		if res.Success {
			return res, nil
		}
		return res, res.Error.Err()
	})

	if attempts > 1 {
		d.stats.retries.Add(int64(attempts - 1))
	}
	if err == nil {
		return result
	}
	if last.RequestID == "" {
		// Context was cancelled before the first attempt.
		return FailureResult("", err, 0)
	}
	return last
}

// Broadcast fans an Event out to every registered agent, except the sender,
// that has a handler matching the event name. Deliveries are asynchronous
// and fire-and-forget: failures are logged and counted, never returned. The
// returned count is the number of agents the event was sent to.
func (d *Dispatcher) Broadcast(ctx context.Context, sender, name string, payload map[string]any) int {
	event := NewEvent(sender, name, payload)
	d.protoMetrics.RecordEventPublished(name)

	// Deliveries outlive the caller's cancellation but keep its values.
	deliveryCtx := context.WithoutCancel(ctx)

	sent := 0
	for _, agent := range d.registry.List() {
		if agent.ID == sender || !agent.HasHandler(name) {
			continue
		}
		sent++
		target := agent.ID
		go func() {
			req := d.newRequest(sender, target, name, event.Payload)
			if result := d.Dispatch(deliveryCtx, req); !result.Success {
				reason := "handler_error"
				if result.Error != nil {
					reason = string(result.Error.Kind)
				}
				d.protoMetrics.RecordEventDropped(reason)
				d.logger.Warn("event delivery failed",
					"event", name,
					"event_id", event.ID,
					"target", target,
					"reason", reason)
			}
		}()
	}

	if sent == 0 {
		d.protoMetrics.RecordEventDropped("no_subscribers")
	}
	d.logger.DebugContext(ctx, "event broadcast", "event", name, "event_id", event.ID, "subscribers", sent)
	return sent
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	dispatched := d.stats.requestsDispatched.Load()
	var avg time.Duration
	if dispatched > 0 {
		avg = time.Duration(d.stats.totalLatency.Load() / dispatched)
	}
	return Stats{
		RequestsDispatched:  dispatched,
		ResponsesSucceeded:  d.stats.responsesSucceeded.Load(),
		ResponsesFailed:     d.stats.responsesFailed.Load(),
		Timeouts:            d.stats.timeouts.Load(),
		RateLimitHits:       d.stats.rateLimitHits.Load(),
		CircuitBreakerTrips: d.stats.circuitBreakerTrips.Load(),
		Retries:             d.stats.retries.Load(),
		AverageLatency:      avg,
	}
}

// History returns the retained Results, oldest first.
func (d *Dispatcher) History() []Result {
	keys := d.history.Keys()
	results := make([]Result, 0, len(keys))
	for _, key := range keys {
		if result, ok := d.history.Peek(key); ok {
			results = append(results, result)
		}
	}
	return results
}

// BreakerMetrics exposes the per-target circuit breaker states.
func (d *Dispatcher) BreakerMetrics() []genesiserrors.CircuitBreakerMetrics {
	return d.breakers.GetMetrics()
}
