package orchestrator

import (
	"sync"
	"time"
)

// StepStatus is the lifecycle state of one step inside a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	// StepSkipped marks steps after the first failure under fail-fast.
	StepSkipped StepStatus = "skipped"
)

// StepSnapshot is a point-in-time view of one step.
type StepSnapshot struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Agent      string        `json:"agent"`
	Action     string        `json:"action"`
	Status     StepStatus    `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Snapshot is a consistent view of a workflow run for reporting.
type Snapshot struct {
	WorkflowID string         `json:"workflow_id"`
	Name       string         `json:"name"`
	Status     WorkflowStatus `json:"status"`
	Steps      []StepSnapshot `json:"steps"`
	Completed  int            `json:"completed"`
	Total      int            `json:"total"`
	Percent    float64        `json:"percent"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// ProgressEventType enumerates workflow lifecycle signals.
type ProgressEventType string

const (
	EventWorkflowStarted  ProgressEventType = "workflow_started"
	EventStepStarted      ProgressEventType = "workflow_step_started"
	EventStepSucceeded    ProgressEventType = "workflow_step_succeeded"
	EventStepFailed       ProgressEventType = "workflow_step_failed"
	EventWorkflowFinished ProgressEventType = "workflow_finished"
)

// ProgressEvent is a workflow lifecycle notification delivered to listeners.
type ProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	Workflow  string            `json:"workflow"`
	Step      *StepSnapshot     `json:"step,omitempty"`
	Snapshot  Snapshot          `json:"snapshot"`
	Timestamp time.Time         `json:"timestamp"`
}

// Listener receives workflow lifecycle events.
type Listener interface {
	OnWorkflowEvent(event ProgressEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ProgressEvent)

func (f ListenerFunc) OnWorkflowEvent(event ProgressEvent) { f(event) }

// tracker follows one workflow run. Step state lives behind a mutex so
// Status() reads stay consistent while the run mutates; listeners are always
// invoked outside the lock.
type tracker struct {
	mu         sync.RWMutex
	id         string
	name       string
	status     WorkflowStatus
	steps      []StepSnapshot
	index      map[string]int
	startedAt  time.Time
	finishedAt time.Time
	listeners  []Listener
}

func newTracker(workflow *Workflow, listeners []Listener) *tracker {
	steps := make([]StepSnapshot, len(workflow.Steps))
	index := make(map[string]int, len(workflow.Steps))
	for i, step := range workflow.Steps {
		steps[i] = StepSnapshot{
			ID:     step.ID,
			Name:   step.Name,
			Agent:  step.Agent,
			Action: step.Action,
			Status: StepPending,
		}
		index[step.ID] = i
	}
	return &tracker{
		id:        workflow.ID,
		name:      workflow.Name,
		status:    WorkflowPending,
		steps:     steps,
		index:     index,
		listeners: listeners,
	}
}

func (t *tracker) start() {
	t.mu.Lock()
	t.status = WorkflowRunning
	t.startedAt = time.Now()
	t.mu.Unlock()

	t.emit(EventWorkflowStarted, nil)
}

func (t *tracker) stepStarted(id string) {
	step := t.transition(id, func(s *StepSnapshot) {
		s.Status = StepRunning
		s.StartedAt = time.Now()
	})
	t.emit(EventStepStarted, step)
}

func (t *tracker) stepSucceeded(id string) {
	step := t.transition(id, func(s *StepSnapshot) {
		s.Status = StepSucceeded
		s.FinishedAt = time.Now()
		s.Elapsed = s.FinishedAt.Sub(s.StartedAt)
	})
	t.emit(EventStepSucceeded, step)
}

func (t *tracker) stepFailed(id, message string) {
	step := t.transition(id, func(s *StepSnapshot) {
		s.Status = StepFailed
		s.Error = message
		s.FinishedAt = time.Now()
		s.Elapsed = s.FinishedAt.Sub(s.StartedAt)
	})
	t.emit(EventStepFailed, step)
}

// skipRemaining marks every still-pending step skipped after a failure.
func (t *tracker) skipRemaining() {
	t.mu.Lock()
	for i := range t.steps {
		if t.steps[i].Status == StepPending {
			t.steps[i].Status = StepSkipped
		}
	}
	t.mu.Unlock()
}

func (t *tracker) finish(status WorkflowStatus) {
	t.mu.Lock()
	t.status = status
	t.finishedAt = time.Now()
	t.mu.Unlock()

	t.emit(EventWorkflowFinished, nil)
}

func (t *tracker) transition(id string, apply func(*StepSnapshot)) *StepSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[id]
	if !ok {
		return nil
	}
	apply(&t.steps[i])
	copied := t.steps[i]
	return &copied
}

func (t *tracker) snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	steps := make([]StepSnapshot, len(t.steps))
	copy(steps, t.steps)

	completed := 0
	for _, step := range steps {
		if step.Status == StepSucceeded {
			completed++
		}
	}
	percent := 0.0
	if len(steps) > 0 {
		percent = float64(completed) / float64(len(steps)) * 100
	}

	elapsed := time.Duration(0)
	if !t.startedAt.IsZero() {
		end := t.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = end.Sub(t.startedAt)
	}

	return Snapshot{
		WorkflowID: t.id,
		Name:       t.name,
		Status:     t.status,
		Steps:      steps,
		Completed:  completed,
		Total:      len(steps),
		Percent:    percent,
		StartedAt:  t.startedAt,
		Elapsed:    elapsed,
	}
}

func (t *tracker) emit(eventType ProgressEventType, step *StepSnapshot) {
	t.mu.RLock()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}

	event := ProgressEvent{
		Type:      eventType,
		Workflow:  t.id,
		Step:      step,
		Snapshot:  t.snapshot(),
		Timestamp: time.Now(),
	}
	for _, listener := range listeners {
		listener.OnWorkflowEvent(event)
	}
}
