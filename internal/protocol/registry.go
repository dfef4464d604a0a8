package protocol

import (
	"sync"

	genesiserrors "genesis/internal/errors"
	"genesis/internal/observability"
)

// Registry is the authoritative agent directory. It is the only mutable
// shared index in the protocol layer: single writer, many readers.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string

	metrics *observability.ProtocolMetrics
	logger  *observability.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:  make(map[string]*Agent),
		metrics: observability.NewProtocolMetrics(),
		logger:  observability.NewComponentLogger("registry"),
	}
}

// Register adds an agent under its ID. Registering an already present ID
// fails with DuplicateError and leaves the registry unchanged.
func (r *Registry) Register(agent *Agent) error {
	if agent == nil || agent.ID == "" {
		return genesiserrors.NewValidationError("agent", "must have a non-empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.ID]; exists {
		return &genesiserrors.DuplicateError{ID: agent.ID}
	}

	r.agents[agent.ID] = agent
	r.order = append(r.order, agent.ID)
	r.metrics.RecordAgentRegistered(agent.Type, 1)
	r.logger.Info("agent registered", "agent_id", agent.ID, "type", agent.Type)
	return nil
}

// Unregister removes the agent with the given ID. Removing an unknown ID
// reports RoutingError but is otherwise a no-op: the registry state is
// unchanged either way.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[id]
	if !exists {
		return genesiserrors.NewRoutingError(id)
	}

	delete(r.agents, id)
	for i, orderedID := range r.order {
		if orderedID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.RecordAgentRegistered(agent.Type, -1)
	r.logger.Info("agent unregistered", "agent_id", id)
	return nil
}

// Get returns the agent registered under id, or RoutingError.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[id]
	if !exists {
		return nil, genesiserrors.NewRoutingError(id)
	}
	return agent, nil
}

// List returns a snapshot of all agents in registration order. Each call
// yields a fresh slice.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		if agent, ok := r.agents[id]; ok {
			agents = append(agents, agent)
		}
	}
	return agents
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
