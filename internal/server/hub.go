package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"genesis/internal/observability"
	"genesis/internal/orchestrator"
	"genesis/internal/protocol"
)

// StreamAgentID is the registry id of the agent that feeds the websocket
// event stream. It subscribes to broadcasts like any other agent.
const StreamAgentID = "event_stream"

// EventDeploymentState is the broadcast name for deployment state
// transitions. The deployment executor's state hook publishes under it.
const EventDeploymentState = "deployment_state_changed"

// sendBuffer is each connection's outbound queue. A client that cannot keep
// up loses events rather than stalling the hub.
const sendBuffer = 64

// streamConn is one websocket subscriber.
type streamConn struct {
	id   string
	conn *websocket.Conn
	send chan StreamEvent
	done chan struct{}
	once sync.Once
}

func newStreamConn(conn *websocket.Conn) *streamConn {
	return &streamConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan StreamEvent, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *streamConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *streamConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// eventHub fans broadcast events out to websocket subscribers. Connections
// register on upgrade and are swept periodically once closed.
type eventHub struct {
	mu      sync.RWMutex
	conns   map[string]*streamConn
	logger  *observability.Logger
	metrics *observability.ProtocolMetrics
}

func newEventHub() *eventHub {
	return &eventHub{
		conns:   make(map[string]*streamConn),
		logger:  observability.NewComponentLogger("event-hub"),
		metrics: observability.NewProtocolMetrics(),
	}
}

func (h *eventHub) add(c *streamConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.metrics.WebsocketClientConnected()
	h.logger.Debug("stream subscriber added", "conn_id", c.id, "subscribers", h.len())
}

func (h *eventHub) remove(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if ok {
		c.close()
		h.metrics.WebsocketClientDisconnected()
		h.logger.Debug("stream subscriber removed", "conn_id", id)
	}
}

// publish queues the event on every live subscriber without blocking and
// reports how many received it.
func (h *eventHub) publish(event StreamEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.conns {
		if c.closed() {
			continue
		}
		select {
		case c.send <- event:
			delivered++
		default:
			// slow subscriber, drop
		}
	}
	return delivered
}

// sweep drops subscribers that have closed since the last pass.
func (h *eventHub) sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		if c.closed() {
			delete(h.conns, id)
			h.metrics.WebsocketClientDisconnected()
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		c.close()
		delete(h.conns, id)
		h.metrics.WebsocketClientDisconnected()
	}
}

func (h *eventHub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// streamEventNames is the broadcast vocabulary the hub subscribes to.
func streamEventNames() []string {
	return []string{
		string(orchestrator.EventWorkflowStarted),
		string(orchestrator.EventStepStarted),
		string(orchestrator.EventStepSucceeded),
		string(orchestrator.EventStepFailed),
		string(orchestrator.EventWorkflowFinished),
		EventDeploymentState,
	}
}

// newStreamAgent builds the agent that relays broadcasts into the hub.
// Registering it makes the event stream a regular broadcast subscriber.
func newStreamAgent(hub *eventHub) *protocol.Agent {
	agent := protocol.NewAgent(StreamAgentID, "Event Stream", "system", "event_streaming")
	for _, name := range streamEventNames() {
		agent.RegisterHandler(name, func(ctx context.Context, payload map[string]any) (any, error) {
			delivered := hub.publish(StreamEvent{
				Type:      name,
				Data:      payload,
				Timestamp: time.Now().UTC(),
			})
			return map[string]any{"subscribers": delivered}, nil
		})
	}
	return agent
}
