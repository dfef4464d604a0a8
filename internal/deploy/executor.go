package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	genesiserrors "genesis/internal/errors"
	"genesis/internal/observability"
)

// Executor defaults, overridable per instance.
const (
	DefaultCommandTimeout = 5 * time.Minute
	DefaultHistorySize    = 100
	DefaultRegion         = "us-east-1"
)

// Strategy drives the fixed command sequence for one deployment target.
type Strategy interface {
	// Target is the destination this strategy ships to.
	Target() string
	// RequiredTools lists the CLI binaries the preflight check probes.
	RequiredTools() []string
	// Execute runs the target's command sequence over the session. The first
	// failing command aborts the remainder; the error is the command's.
	Execute(ctx context.Context, session *Session) (Deployment, error)
}

// Rollbacker is implemented by strategies that can revert a finished
// deployment.
type Rollbacker interface {
	Rollback(ctx context.Context, session *Session, app string) error
}

// StateHook observes deployment state transitions.
type StateHook func(target, environment string, state State)

// Option configures an Executor.
type Option func(*Executor)

// WithRunner substitutes the external command runner.
func WithRunner(r Runner) Option {
	return func(e *Executor) { e.runner = r }
}

// WithCommandTimeout bounds each external command.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Executor) { e.commandTimeout = d }
}

// WithPreflight toggles the tooling probe before command execution.
func WithPreflight(enabled bool) Option {
	return func(e *Executor) { e.preflight = enabled }
}

// WithDefaultRegion sets the region used when a config carries none.
func WithDefaultRegion(region string) Option {
	return func(e *Executor) { e.defaultRegion = region }
}

// WithHistorySize caps the retained finished attempts.
func WithHistorySize(n int) Option {
	return func(e *Executor) { e.historySize = n }
}

// WithStateHook registers an observer for attempt state transitions.
func WithStateHook(hook StateHook) Option {
	return func(e *Executor) { e.stateHook = hook }
}

// WithMetricsCollector wires deploy metrics into the given collector.
func WithMetricsCollector(mc *observability.MetricsCollector) Option {
	return func(e *Executor) { e.metrics = mc }
}

// WithTracerProvider wires deploy spans into the given provider.
func WithTracerProvider(tp *observability.TracerProvider) Option {
	return func(e *Executor) { e.tracer = tp }
}

// Status is a point-in-time view of the executor's attempts.
type Status struct {
	Targets []string          `json:"targets"`
	Active  map[string]Result `json:"active"`
	Recent  []Result          `json:"recent"`
	Total   int64             `json:"total"`
}

// Executor selects the strategy for a deployment target and drives the
// attempt state machine: pending, validating, executing, then succeeded or
// failed. Attempts for different targets are independent; Deploy always
// returns a Result and never panics outward.
type Executor struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	active     map[string]Result

	runner         Runner
	commandTimeout time.Duration
	preflight      bool
	defaultRegion  string
	historySize    int
	stateHook      StateHook

	history *lru.Cache[string, Result]
	total   atomic.Int64

	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	logger  *observability.Logger
}

// NewExecutor builds an Executor with the built-in heroku, vercel and aws
// strategies registered.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		strategies:     make(map[string]Strategy),
		active:         make(map[string]Result),
		runner:         NewRunner(),
		commandTimeout: DefaultCommandTimeout,
		preflight:      true,
		defaultRegion:  DefaultRegion,
		historySize:    DefaultHistorySize,
		logger:         observability.NewComponentLogger("deploy-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.commandTimeout <= 0 {
		e.commandTimeout = DefaultCommandTimeout
	}
	if e.defaultRegion == "" {
		e.defaultRegion = DefaultRegion
	}
	if e.historySize <= 0 {
		e.historySize = DefaultHistorySize
	}
	if e.metrics == nil {
		e.metrics, _ = observability.NewMetricsCollector(observability.MetricsConfig{})
	}
	if e.tracer == nil {
		e.tracer, _ = observability.NewTracerProvider(observability.TracingConfig{})
	}
	e.history, _ = lru.New[string, Result](e.historySize)

	e.RegisterStrategy(NewHerokuStrategy())
	e.RegisterStrategy(NewVercelStrategy())
	e.RegisterStrategy(NewAWSStrategy())
	return e
}

// RegisterStrategy installs a strategy under its target name, replacing any
// previous strategy for the same target.
func (e *Executor) RegisterStrategy(s Strategy) {
	if s == nil || s.Target() == "" {
		return
	}
	e.mu.Lock()
	e.strategies[s.Target()] = s
	e.mu.Unlock()
}

// Targets lists the registered target names, sorted.
func (e *Executor) Targets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	targets := make([]string, 0, len(e.strategies))
	for target := range e.strategies {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

func (e *Executor) strategy(target string) (Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[target]
	return s, ok
}

// Deploy runs one deployment attempt for the config's target. The returned
// Result carries the terminal state, the ordered command logs, and the
// parsed URL when the target's tooling reported one. Result.Success holds
// exactly when every command in the strategy's sequence succeeded.
func (e *Executor) Deploy(ctx context.Context, projectDir string, cfg Config) Result {
	start := time.Now()
	cfg = e.normalizeConfig(cfg)

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanDeployRun, observability.DeployAttrs(cfg.Target)...)
	defer span.End()

	result := e.attempt(ctx, projectDir, cfg, start)
	result.Elapsed = time.Since(start)

	status := string(result.State)
	span.SetAttributes(observability.StatusAttrs(status)...)
	e.metrics.RecordDeploy(ctx, cfg.Target, status, result.Elapsed)
	e.finish(result)

	e.logger.InfoContext(ctx, "deployment finished",
		"target", result.Target,
		"environment", result.Environment,
		"state", string(result.State),
		"url", result.URL,
		"elapsed", result.Elapsed)
	return result
}

// attempt walks the state machine for one deployment. Unexpected panics are
// converted into a failed Result so Deploy never raises.
func (e *Executor) attempt(ctx context.Context, projectDir string, cfg Config, start time.Time) (result Result) {
	result = Result{
		Target:      cfg.Target,
		Environment: cfg.Environment,
		App:         cfg.AppName,
		State:       StatePending,
		Logs:        []string{},
		StartedAt:   start,
	}

	session := &Session{
		ProjectDir: projectDir,
		Config:     cfg,
		runner:     e.runner,
		timeout:    e.commandTimeout,
		metrics:    e.metrics,
		tracer:     e.tracer,
		logger:     e.logger,
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("deployment panicked", "target", cfg.Target, "panic", r)
			result.Logs = session.Logs()
			e.failAttempt(&result, &genesiserrors.InternalError{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	e.transition(&result, StatePending)

	if err := validateConfig(cfg); err != nil {
		session.Log("error: " + err.Error())
		result.Logs = session.Logs()
		e.failAttempt(&result, err)
		return result
	}

	strategy, ok := e.strategy(cfg.Target)
	if !ok {
		err := genesiserrors.NewValidationError("target", fmt.Sprintf("unsupported deployment target %q", cfg.Target))
		session.Log("error: " + err.Error())
		result.Logs = session.Logs()
		e.failAttempt(&result, err)
		return result
	}

	e.transition(&result, StateValidating)
	if e.preflight {
		if err := e.runPreflight(ctx, session, strategy); err != nil {
			result.Logs = session.Logs()
			e.failAttempt(&result, err)
			return result
		}
	}

	e.transition(&result, StateExecuting)
	deployment, err := strategy.Execute(ctx, session)
	result.Logs = session.Logs()
	if err != nil {
		e.failAttempt(&result, err)
		return result
	}

	result.Success = true
	result.App = deployment.App
	result.URL = deployment.URL
	result.RollbackAvailable = deployment.RollbackAvailable
	e.transition(&result, StateSucceeded)
	return result
}

// runPreflight confirms every tool the strategy shells out to is callable.
func (e *Executor) runPreflight(ctx context.Context, session *Session, strategy Strategy) error {
	for _, tool := range strategy.RequiredTools() {
		if outcome := session.Run(ctx, tool, "--version"); !outcome.Success {
			return outcome.Err
		}
	}
	return nil
}

func (e *Executor) failAttempt(result *Result, err error) {
	result.Success = false
	if err != nil {
		result.Error = err.Error()
	}
	e.transition(result, StateFailed)
}

// transition advances the attempt state, mirrors it into the active map and
// notifies the state hook.
func (e *Executor) transition(result *Result, state State) {
	result.State = state

	key := deploymentKey(result.Target, result.Environment)
	e.mu.Lock()
	e.active[key] = *result
	e.mu.Unlock()

	if e.stateHook != nil {
		e.stateHook(result.Target, result.Environment, state)
	}
	e.logger.Debug("deployment state changed",
		"target", result.Target,
		"environment", result.Environment,
		"state", string(state))
}

// finish retires the attempt from the active map into the history.
func (e *Executor) finish(result Result) {
	key := deploymentKey(result.Target, result.Environment)
	e.mu.Lock()
	delete(e.active, key)
	e.mu.Unlock()

	e.history.Add(key, result)
	e.total.Add(1)
}

// DeployAll runs one attempt per config in parallel. A failed attempt never
// cancels the others; the Results come back in config order.
func (e *Executor) DeployAll(ctx context.Context, projectDir string, configs []Config) []Result {
	results := make([]Result, len(configs))

	var g errgroup.Group
	for i, cfg := range configs {
		g.Go(func() error {
			results[i] = e.Deploy(ctx, projectDir, cfg)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Rollback reverts the last finished deployment for the target and
// environment. It fails with ValidationError when nothing is on record, the
// recorded attempt has nothing to roll back, or the strategy cannot revert.
func (e *Executor) Rollback(ctx context.Context, projectDir, target, environment string) error {
	target = strings.ToLower(strings.TrimSpace(target))
	environment = normalizeEnvironment(environment)

	last, ok := e.history.Get(deploymentKey(target, environment))
	if !ok {
		return genesiserrors.NewValidationError("rollback",
			fmt.Sprintf("no recorded deployment for %s/%s", target, environment))
	}
	if !last.RollbackAvailable {
		return genesiserrors.NewValidationError("rollback",
			fmt.Sprintf("deployment to %s/%s has nothing to roll back", target, environment))
	}

	strategy, ok := e.strategy(target)
	if !ok {
		return genesiserrors.NewValidationError("target", fmt.Sprintf("unsupported deployment target %q", target))
	}
	rollbacker, ok := strategy.(Rollbacker)
	if !ok {
		return genesiserrors.NewValidationError("rollback",
			fmt.Sprintf("target %q does not support rollback", target))
	}

	session := &Session{
		ProjectDir: projectDir,
		Config:     Config{Target: target, Environment: environment, AppName: last.App},
		runner:     e.runner,
		timeout:    e.commandTimeout,
		metrics:    e.metrics,
		tracer:     e.tracer,
		logger:     e.logger,
	}

	if err := rollbacker.Rollback(ctx, session, last.App); err != nil {
		return err
	}
	e.logger.Info("deployment rolled back", "target", target, "environment", environment, "app", last.App)
	return nil
}

// Status snapshots the in-flight and recently finished attempts.
func (e *Executor) Status() Status {
	e.mu.RLock()
	active := make(map[string]Result, len(e.active))
	for key, result := range e.active {
		active[key] = result
	}
	e.mu.RUnlock()

	keys := e.history.Keys()
	recent := make([]Result, 0, len(keys))
	for _, key := range keys {
		if result, ok := e.history.Peek(key); ok {
			recent = append(recent, result)
		}
	}

	return Status{
		Targets: e.Targets(),
		Active:  active,
		Recent:  recent,
		Total:   e.total.Load(),
	}
}

func (e *Executor) normalizeConfig(cfg Config) Config {
	cfg.Target = strings.ToLower(strings.TrimSpace(cfg.Target))
	cfg.Environment = normalizeEnvironment(cfg.Environment)
	cfg.AppName = strings.TrimSpace(cfg.AppName)
	if cfg.Region == "" {
		cfg.Region = e.defaultRegion
	}
	return cfg
}

func normalizeEnvironment(environment string) string {
	environment = strings.ToLower(strings.TrimSpace(environment))
	if environment == "" {
		return EnvDevelopment
	}
	return environment
}

func validateConfig(cfg Config) error {
	if cfg.Target == "" {
		return genesiserrors.NewValidationError("target", "must not be empty")
	}
	switch cfg.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return nil
	default:
		return genesiserrors.NewValidationError("environment",
			fmt.Sprintf("must be %s, %s or %s, got %q", EnvDevelopment, EnvStaging, EnvProduction, cfg.Environment))
	}
}
