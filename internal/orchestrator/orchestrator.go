package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"genesis/internal/config"
	genesiserrors "genesis/internal/errors"
	"genesis/internal/observability"
	"genesis/internal/protocol"
)

// orchestratorID is the sender id used for step dispatches and broadcasts.
const orchestratorID = "orchestrator"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithListener attaches a workflow progress listener.
func WithListener(listener Listener) Option {
	return func(o *Orchestrator) {
		if listener != nil {
			o.listeners = append(o.listeners, listener)
		}
	}
}

// WithVersion sets the generator version written into project manifests.
func WithVersion(version string) Option {
	return func(o *Orchestrator) { o.version = version }
}

// WithMetricsCollector wires workflow metrics into the given collector.
func WithMetricsCollector(mc *observability.MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = mc }
}

// WithTracerProvider wires workflow spans into the given provider.
func WithTracerProvider(tp *observability.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp }
}

// Orchestrator sequences project generation workflows over the dispatcher.
// It performs no domain logic itself: steps are dispatched to agents in
// declared order, fail-fast, and their results aggregated.
type Orchestrator struct {
	dispatcher *protocol.Dispatcher
	cfg        config.Config
	version    string

	mu      sync.RWMutex
	current *tracker

	listeners []Listener
	metrics   *observability.MetricsCollector
	tracer    *observability.TracerProvider
	logger    *observability.Logger
}

// New builds an Orchestrator on top of the dispatcher. Workflow lifecycle
// events are broadcast through the dispatcher so subscribed agents (and the
// event stream) observe every run.
func New(dispatcher *protocol.Dispatcher, cfg config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dispatcher: dispatcher,
		cfg:        cfg,
		version:    "dev",
		logger:     observability.NewComponentLogger("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.metrics == nil {
		o.metrics, _ = observability.NewMetricsCollector(observability.MetricsConfig{})
	}
	if o.tracer == nil {
		o.tracer, _ = observability.NewTracerProvider(observability.TracingConfig{})
	}
	o.listeners = append(o.listeners, &broadcastListener{dispatcher: dispatcher})
	return o
}

// ExecuteProjectGeneration runs one generation workflow and aggregates the
// outcome. Expected failures (validation, step errors, timeouts) come back
// inside the result; the method never panics outward.
func (o *Orchestrator) ExecuteProjectGeneration(ctx context.Context, req GenerationRequest) ProjectGenerationResult {
	start := time.Now()
	req = o.normalizeRequest(req)

	result := o.execute(ctx, req)
	result.Metadata.ExecutionTime = time.Since(start)

	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	o.metrics.RecordWorkflow(ctx, result.Metadata.WorkflowName, status, result.Metadata.ExecutionTime)

	o.logger.InfoContext(ctx, "project generation finished",
		"project", req.ProjectName,
		"workflow_id", result.Metadata.WorkflowID,
		"status", status,
		"completed_steps", len(result.CompletedSteps),
		"total_steps", result.Metadata.TotalSteps,
		"elapsed", result.Metadata.ExecutionTime)
	return result
}

func (o *Orchestrator) execute(ctx context.Context, req GenerationRequest) (result ProjectGenerationResult) {
	result = ProjectGenerationResult{
		ProjectName:    req.ProjectName,
		CompletedSteps: []string{},
		StepResults:    map[string]any{},
		Metadata:       Metadata{WorkflowName: workflowName(req)},
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("project generation panicked", "project", req.ProjectName, "panic", r)
			result.Success = false
			result.Error = protocol.NewErrorInfo(&genesiserrors.InternalError{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if err := o.validateRequest(req); err != nil {
		result.Error = protocol.NewErrorInfo(err)
		return result
	}

	steps := req.Steps
	if len(steps) == 0 {
		steps = buildGenerationSteps(req)
	}
	workflow := NewWorkflow(result.Metadata.WorkflowName, steps)
	result.Metadata.WorkflowID = workflow.ID
	result.Metadata.TotalSteps = len(workflow.Steps)

	if err := workflow.Validate(); err != nil {
		result.Error = protocol.NewErrorInfo(err)
		return result
	}

	ctx = observability.ContextWithWorkflowID(ctx, workflow.ID)
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanWorkflowRun)
	defer span.End()

	run := newTracker(workflow, o.listeners)
	o.setCurrent(run)
	run.start()

	o.runSteps(ctx, workflow, run, &result)

	if result.Success && o.shouldWriteProjectFiles(req) {
		manifest := projectManifest{
			Name:        req.ProjectName,
			GeneratedAt: time.Now().UTC(),
			Generator:   "genesis",
			Version:     o.version,
			WorkflowID:  workflow.ID,
			Steps:       result.CompletedSteps,
		}
		if err := writeProjectFiles(o.outputDir(req), manifest, req.Template); err != nil {
			o.logger.Error("project finalization failed", "project", req.ProjectName, "error", err)
			result.Success = false
			result.Error = protocol.NewErrorInfo(err)
		}
	}

	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	span.SetAttributes(observability.StatusAttrs(status)...)
	return result
}

// runSteps executes the workflow strictly in declared order. The first
// failed step aborts the remainder.
func (o *Orchestrator) runSteps(ctx context.Context, workflow *Workflow, run *tracker, result *ProjectGenerationResult) {
	for _, step := range workflow.Steps {
		run.stepStarted(step.ID)

		stepCtx, span := o.tracer.StartSpan(ctx, observability.SpanWorkflowStep, observability.StepAttrs(step.ID)...)
		params := resolveParams(step.Params, result.StepResults)
		stepResult := o.dispatcher.Send(stepCtx, orchestratorID, step.Agent, step.Action, params)

		status := "succeeded"
		if !stepResult.Success {
			status = "failed"
		}
		span.SetAttributes(observability.StatusAttrs(status)...)
		span.End()
		o.metrics.RecordWorkflowStep(ctx, workflow.Name, step.ID, status)

		if !stepResult.Success {
			message := "step failed"
			kind := genesiserrors.KindInternal
			if stepResult.Error != nil {
				message = stepResult.Error.Message
				kind = stepResult.Error.Kind
			}
			o.logger.WarnContext(ctx, "workflow step failed",
				"step", step.ID, "agent", step.Agent, "action", step.Action, "error", message)

			run.stepFailed(step.ID, message)
			run.skipRemaining()
			run.finish(WorkflowFailed)

			result.FailedStep = step.ID
			result.Error = &protocol.ErrorInfo{
				Kind:    kind,
				Message: fmt.Sprintf("step %s: %s", step.ID, message),
			}
			return
		}

		result.StepResults[step.ID] = stepResult.Value
		result.CompletedSteps = append(result.CompletedSteps, step.ID)
		run.stepSucceeded(step.ID)
	}

	run.finish(WorkflowSucceeded)
	result.Success = true
}

// Status reports the progress of the current or most recent workflow run.
func (o *Orchestrator) Status() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return Snapshot{Status: WorkflowIdle}
	}
	return o.current.snapshot()
}

func (o *Orchestrator) setCurrent(run *tracker) {
	o.mu.Lock()
	o.current = run
	o.mu.Unlock()
}

func (o *Orchestrator) normalizeRequest(req GenerationRequest) GenerationRequest {
	req.ProjectName = strings.TrimSpace(req.ProjectName)
	req.Template = strings.ToLower(strings.TrimSpace(req.Template))
	req.Backend = strings.ToLower(strings.TrimSpace(req.Backend))
	req.Frontend = strings.ToLower(strings.TrimSpace(req.Frontend))
	req.Database = strings.ToLower(strings.TrimSpace(req.Database))
	req.DeployTarget = strings.ToLower(strings.TrimSpace(req.DeployTarget))

	if req.Template == "" && len(req.Steps) == 0 {
		req.Template = o.cfg.Workflow.DefaultTemplate
	}
	return req
}

// validateRequest rejects unsupported technology choices before any step is
// dispatched.
func (o *Orchestrator) validateRequest(req GenerationRequest) error {
	if req.ProjectName == "" {
		return genesiserrors.NewValidationError("project_name", "must not be empty")
	}
	if req.Template != "" && !supportedValue(req.Template, o.cfg.Workflow.SupportedTemplates) {
		return unsupportedError("template", req.Template, o.cfg.Workflow.SupportedTemplates)
	}
	if req.Backend != "" && !supportedValue(req.Backend, o.cfg.Workflow.SupportedBackends) {
		return unsupportedError("backend", req.Backend, o.cfg.Workflow.SupportedBackends)
	}
	if req.Frontend != "" && !supportedValue(req.Frontend, o.cfg.Workflow.SupportedFrontends) {
		return unsupportedError("frontend", req.Frontend, o.cfg.Workflow.SupportedFrontends)
	}
	if req.Database != "" && !supportedValue(req.Database, o.cfg.Workflow.SupportedDatabases) {
		return unsupportedError("database", req.Database, o.cfg.Workflow.SupportedDatabases)
	}
	if req.DeployTarget != "" && !supportedValue(req.DeployTarget, o.cfg.Deploy.SupportedTargets) {
		return unsupportedError("deploy_target", req.DeployTarget, o.cfg.Deploy.SupportedTargets)
	}
	return nil
}

func (o *Orchestrator) shouldWriteProjectFiles(req GenerationRequest) bool {
	return o.cfg.Workflow.WriteProjectFiles && o.outputDir(req) != ""
}

func (o *Orchestrator) outputDir(req GenerationRequest) string {
	if req.OutputDir != "" {
		return req.OutputDir
	}
	return o.cfg.Workflow.OutputDir
}

func workflowName(req GenerationRequest) string {
	return "generate_" + req.ProjectName
}

func supportedValue(value string, values []string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func unsupportedError(field, value string, supported []string) error {
	return genesiserrors.NewValidationError(field,
		fmt.Sprintf("unsupported value %q (supported: %s)", value, strings.Join(supported, ", ")))
}

// broadcastListener fans workflow lifecycle events out through the
// dispatcher so subscribed agents observe runs without polling.
type broadcastListener struct {
	dispatcher *protocol.Dispatcher
}

func (b *broadcastListener) OnWorkflowEvent(event ProgressEvent) {
	if b.dispatcher == nil {
		return
	}

	payload := map[string]any{
		"workflow_id": event.Workflow,
		"name":        event.Snapshot.Name,
		"status":      string(event.Snapshot.Status),
		"completed":   event.Snapshot.Completed,
		"total":       event.Snapshot.Total,
		"percent":     event.Snapshot.Percent,
	}
	if event.Step != nil {
		payload["step_id"] = event.Step.ID
		payload["agent"] = event.Step.Agent
		payload["action"] = event.Step.Action
		payload["step_status"] = string(event.Step.Status)
		if event.Step.Error != "" {
			payload["error"] = event.Step.Error
		}
	}
	b.dispatcher.Broadcast(context.Background(), orchestratorID, string(event.Type), payload)
}
