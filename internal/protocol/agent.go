package protocol

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	genesiserrors "genesis/internal/errors"
	"genesis/internal/observability"
)

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusBusy         Status = "busy"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// Handler processes one action's payload and returns its value or an error.
type Handler func(ctx context.Context, payload map[string]any) (any, error)

// Agent owns a set of action handlers. Agents are created once at startup,
// handlers registered during initialization, and torn down at shutdown.
type Agent struct {
	ID   string
	Name string
	Type string

	mu           sync.RWMutex
	handlers     map[string]Handler
	status       Status
	capabilities []string
	heartbeat    time.Time

	inFlight  atomic.Int64
	handled   atomic.Int64
	createdAt time.Time
	logger    *observability.Logger
}

// NewAgent creates an agent with the core liveness handlers registered.
func NewAgent(id, name, agentType string, capabilities ...string) *Agent {
	a := &Agent{
		ID:           id,
		Name:         name,
		Type:         agentType,
		handlers:     make(map[string]Handler),
		status:       StatusInitializing,
		capabilities: capabilities,
		createdAt:    time.Now(),
		heartbeat:    time.Now(),
		logger:       observability.NewComponentLogger("agent").With("agent_id", id),
	}
	a.registerCoreHandlers()
	a.setStatus(StatusReady)
	return a
}

// RegisterHandler binds a handler to an action. Re-registering an action
// overwrites the previous handler idempotently.
func (a *Agent) RegisterHandler(action string, handler Handler) {
	if action == "" || handler == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[action] = handler
}

// Handlers returns the registered action names, sorted.
func (a *Agent) Handlers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	actions := make([]string, 0, len(a.handlers))
	for action := range a.handlers {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// HasHandler reports whether the agent handles the action.
func (a *Agent) HasHandler(action string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.handlers[action]
	return ok
}

// Capabilities returns the agent's declared capability list.
func (a *Agent) Capabilities() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.capabilities...)
}

// Status returns the current lifecycle state. An agent with in-flight
// requests reports busy.
func (a *Agent) Status() Status {
	a.mu.RLock()
	status := a.status
	a.mu.RUnlock()

	if status == StatusReady && a.inFlight.Load() > 0 {
		return StatusBusy
	}
	return status
}

// SetStatus transitions the agent to a new lifecycle state.
func (a *Agent) SetStatus(status Status) {
	a.setStatus(status)
}

func (a *Agent) setStatus(status Status) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

// Heartbeat returns the time of the last handled request.
func (a *Agent) Heartbeat() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.heartbeat
}

func (a *Agent) touchHeartbeat() {
	a.mu.Lock()
	a.heartbeat = time.Now()
	a.mu.Unlock()
}

// HandleRequest runs the handler for the request's action under the request
// deadline. The returned Result is produced exactly once: handler value,
// handler failure (panics included), or timeout. A handler that ignores its
// context cannot hold the Result past the deadline; its goroutine drains in
// the background.
func (a *Agent) HandleRequest(ctx context.Context, req *Request) Result {
	start := time.Now()

	a.mu.RLock()
	handler, ok := a.handlers[req.Action]
	a.mu.RUnlock()
	if !ok {
		return FailureResult(req.ID, genesiserrors.NewActionRoutingError(a.ID, req.Action), time.Since(start))
	}

	timeout := req.EffectiveTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.inFlight.Add(1)
	a.touchHeartbeat()

	resultCh := make(chan Result, 1)
	go func() {
		defer a.inFlight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("handler panicked", "action", req.Action, "panic", r)
				resultCh <- FailureResult(req.ID,
					genesiserrors.NewHandlerError(req.Action, fmt.Errorf("panic: %v", r)),
					time.Since(start))
			}
		}()

		value, err := handler(ctx, req.Payload)
		if err != nil {
			resultCh <- FailureResult(req.ID, a.wrapHandlerError(req.Action, err), time.Since(start))
			return
		}
		resultCh <- SuccessResult(req.ID, value, time.Since(start))
	}()

	select {
	case result := <-resultCh:
		a.handled.Add(1)
		return result
	case <-ctx.Done():
		a.handled.Add(1)
		if ctx.Err() == context.DeadlineExceeded {
			return FailureResult(req.ID, genesiserrors.NewTimeoutError(req.Action, timeout), time.Since(start))
		}
		return FailureResult(req.ID, ctx.Err(), time.Since(start))
	}
}

// wrapHandlerError keeps taxonomy errors intact and wraps everything else as
// a handler failure carrying the original message.
func (a *Agent) wrapHandlerError(action string, err error) error {
	if genesiserrors.Classify(err) != genesiserrors.KindInternal {
		return err
	}
	return genesiserrors.NewHandlerError(action, err)
}

// StatusPayload is the structured state exposed by the core status handler
// and the HTTP agent listing.
func (a *Agent) StatusPayload() map[string]any {
	return map[string]any{
		"agent_id":       a.ID,
		"name":           a.Name,
		"type":           a.Type,
		"status":         string(a.Status()),
		"capabilities":   a.Capabilities(),
		"handlers":       a.Handlers(),
		"handled":        a.handled.Load(),
		"uptime_seconds": time.Since(a.createdAt).Seconds(),
		"last_heartbeat": a.Heartbeat().UTC().Format(time.RFC3339),
	}
}

// registerCoreHandlers installs the liveness handlers every agent answers.
func (a *Agent) registerCoreHandlers() {
	a.handlers["ping"] = func(ctx context.Context, payload map[string]any) (any, error) {
		return map[string]any{
			"pong":      true,
			"agent_id":  a.ID,
			"name":      a.Name,
			"status":    string(a.Status()),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil
	}
	a.handlers["status"] = func(ctx context.Context, payload map[string]any) (any, error) {
		return a.StatusPayload(), nil
	}
	a.handlers["capabilities"] = func(ctx context.Context, payload map[string]any) (any, error) {
		return map[string]any{
			"agent_id":     a.ID,
			"capabilities": a.Capabilities(),
			"handlers":     a.Handlers(),
		}, nil
	}
	a.handlers["health"] = func(ctx context.Context, payload map[string]any) (any, error) {
		status := a.Status()
		return map[string]any{
			"agent_id":       a.ID,
			"healthy":        status == StatusReady || status == StatusBusy,
			"status":         string(status),
			"uptime_seconds": time.Since(a.createdAt).Seconds(),
		}, nil
	}
}
