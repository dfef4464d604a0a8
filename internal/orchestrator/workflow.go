package orchestrator

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	genesiserrors "genesis/internal/errors"
)

// WorkflowStatus is the aggregate state of one workflow run.
type WorkflowStatus string

const (
	// WorkflowIdle means no workflow has run yet.
	WorkflowIdle      WorkflowStatus = "idle"
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowSucceeded WorkflowStatus = "succeeded"
	WorkflowFailed    WorkflowStatus = "failed"
)

// Step is one agent invocation inside a workflow. Dependencies must name
// earlier steps; under sequential execution they are validated metadata, as
// is Priority.
type Step struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Agent        string         `json:"agent"`
	Action       string         `json:"action"`
	Params       map[string]any `json:"params,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Priority     int            `json:"priority,omitempty"`
}

// Workflow is an ordered step list executed fail-fast. Created per
// orchestration call and discarded after it returns.
type Workflow struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Steps  []Step         `json:"steps"`
	Status WorkflowStatus `json:"status"`
}

// NewWorkflow builds a pending workflow with a fresh id.
func NewWorkflow(name string, steps []Step) *Workflow {
	return &Workflow{
		ID:     uuid.NewString(),
		Name:   name,
		Steps:  steps,
		Status: WorkflowPending,
	}
}

// Validate rejects workflows with missing step fields, duplicate step ids, or
// dependencies that do not name an earlier step. It runs before any step is
// dispatched.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return genesiserrors.NewValidationError("workflow", "must contain at least one step")
	}

	seen := make(map[string]bool, len(w.Steps))
	for i, step := range w.Steps {
		if step.ID == "" {
			return genesiserrors.NewValidationError("step", fmt.Sprintf("step %d has no id", i))
		}
		if seen[step.ID] {
			return genesiserrors.NewValidationError("step", fmt.Sprintf("duplicate step id %q", step.ID))
		}
		if step.Agent == "" {
			return genesiserrors.NewValidationError("step", fmt.Sprintf("step %q has no agent", step.ID))
		}
		if step.Action == "" {
			return genesiserrors.NewValidationError("step", fmt.Sprintf("step %q has no action", step.ID))
		}
		for _, dep := range step.Dependencies {
			if !seen[dep] {
				return genesiserrors.NewValidationError("step",
					fmt.Sprintf("step %q dependency %q must name an earlier step", step.ID, dep))
			}
		}
		seen[step.ID] = true
	}
	return nil
}

// paramRef matches the whole-string templating forms `{{step_id}}` and
// `{{step_id.key}}`.
var paramRef = regexp.MustCompile(`^\{\{([a-zA-Z0-9_-]+)(?:\.([a-zA-Z0-9_-]+))?\}\}$`)

// resolveParams substitutes templated string params with earlier step
// results. `{{step_id}}` resolves to the step's whole result value,
// `{{step_id.key}}` to the keyed field of a map result. Unresolvable
// references resolve to nil; non-template values pass through unchanged.
func resolveParams(params map[string]any, results map[string]any) map[string]any {
	if len(params) == 0 {
		return params
	}
	resolved := make(map[string]any, len(params))
	for key, value := range params {
		resolved[key] = resolveValue(value, results)
	}
	return resolved
}

func resolveValue(value any, results map[string]any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}
	match := paramRef.FindStringSubmatch(text)
	if match == nil {
		return value
	}

	stepValue, ok := results[match[1]]
	if !ok {
		return nil
	}
	if match[2] == "" {
		return stepValue
	}
	if mapped, ok := stepValue.(map[string]any); ok {
		return mapped[match[2]]
	}
	return nil
}
