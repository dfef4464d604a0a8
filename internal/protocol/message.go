package protocol

import (
	"errors"
	"time"

	"github.com/google/uuid"

	genesiserrors "genesis/internal/errors"
)

// DefaultTimeout applies to requests that carry no explicit timeout.
const DefaultTimeout = 30 * time.Second

// MessageType distinguishes the message kinds on the wire.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeEvent    MessageType = "event"
)

// Request is a single addressed call to an agent action. Requests are
// ephemeral: one per call, discarded once the Result is produced.
type Request struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Target    string         `json:"target"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timeout   time.Duration  `json:"timeout"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewRequest builds a Request with a fresh ID and the default timeout.
func NewRequest(sender, target, action string, payload map[string]any) *Request {
	return &Request{
		ID:        uuid.NewString(),
		Sender:    sender,
		Target:    target,
		Action:    action,
		Payload:   payload,
		Timeout:   DefaultTimeout,
		CreatedAt: time.Now(),
	}
}

// EffectiveTimeout returns the request timeout, substituting the default for
// unset or non-positive values.
func (r *Request) EffectiveTimeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// ErrorInfo is the serializable failure description carried by a Result.
type ErrorInfo struct {
	Kind    genesiserrors.Kind `json:"kind"`
	Message string             `json:"message"`
}

// NewErrorInfo classifies err into an ErrorInfo.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{
		Kind:    genesiserrors.Classify(err),
		Message: err.Error(),
	}
}

// Err converts the transported failure back into an error value, preserving
// the recorded message so re-classification lands on the same kind.
func (e *ErrorInfo) Err() error {
	if e == nil {
		return nil
	}
	return errors.New(e.Message)
}

// Result is the single outcome of a Request: success with a value, or a
// classified failure. Exactly one Result exists per dispatched Request.
type Result struct {
	RequestID string        `json:"request_id"`
	Success   bool          `json:"success"`
	Value     any           `json:"value,omitempty"`
	Error     *ErrorInfo    `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// SuccessResult builds a successful Result for the request.
func SuccessResult(requestID string, value any, elapsed time.Duration) Result {
	return Result{
		RequestID: requestID,
		Success:   true,
		Value:     value,
		Elapsed:   elapsed,
	}
}

// FailureResult builds a failed Result carrying the classified error.
func FailureResult(requestID string, err error, elapsed time.Duration) Result {
	return Result{
		RequestID: requestID,
		Success:   false,
		Error:     NewErrorInfo(err),
		Elapsed:   elapsed,
	}
}

// Event is a fire-and-forget broadcast message. Events produce no Results.
type Event struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent builds an Event with a fresh ID.
func NewEvent(sender, name string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Sender:    sender,
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
