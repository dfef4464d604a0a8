package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure for result tagging, metrics labels and retry
// decisions. Every error produced at a dispatch boundary maps to exactly
// one Kind.
type Kind string

const (
	KindRouting         Kind = "routing"
	KindTimeout         Kind = "timeout"
	KindHandler         Kind = "handler"
	KindExternalCommand Kind = "external_command"
	KindValidation      Kind = "validation"
	KindDuplicate       Kind = "duplicate"
	KindRateLimit       Kind = "rate_limit"
	KindCircuitOpen     Kind = "circuit_open"
	KindInternal        Kind = "internal"
)

// RoutingError reports an unknown agent id, or an action the target agent
// does not handle.
type RoutingError struct {
	Agent  string
	Action string
}

func (e *RoutingError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("action not found: %s on agent %s", e.Action, e.Agent)
	}
	return fmt.Sprintf("agent not found: %s", e.Agent)
}

// NewRoutingError reports an unknown agent.
func NewRoutingError(agent string) *RoutingError {
	return &RoutingError{Agent: agent}
}

// NewActionRoutingError reports an agent that does not handle the action.
func NewActionRoutingError(agent, action string) *RoutingError {
	return &RoutingError{Agent: agent, Action: action}
}

// TimeoutError reports a handler or external command that exceeded its
// deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// NewTimeoutError creates a TimeoutError for the named operation.
func NewTimeoutError(op string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Op: op, Timeout: timeout}
}

// HandlerError wraps a failure raised inside an agent handler, carrying the
// original message.
type HandlerError struct {
	Action string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed: %v", e.Action, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// NewHandlerError wraps err as a handler failure for the given action.
func NewHandlerError(action string, err error) *HandlerError {
	return &HandlerError{Action: action, Err: err}
}

// ExternalCommandError reports a spawn failure, non-zero exit, or timeout of
// an external command. Spawn failures carry ExitCode -1.
type ExternalCommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalCommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

func (e *ExternalCommandError) Unwrap() error { return e.Err }

// ValidationError reports a malformed workflow, configuration, or an
// unsupported technology choice.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// DuplicateError reports registration under an already registered agent id.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("agent already registered: %s", e.ID)
}

// RateLimitError reports a sender that exhausted its token bucket.
type RateLimitError struct {
	Agent string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Agent)
}

// CircuitOpenError reports a dispatch rejected because the target's circuit
// breaker is open. RetryAfter is the remaining recovery window.
type CircuitOpenError struct {
	Agent      string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.Agent)
}

// InternalError wraps an unexpected fault caught at an outermost boundary so
// the structured-result contract holds even for unanticipated failures.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// WrapInternal wraps err as an InternalError unless it already carries a
// Kind from this package.
func WrapInternal(err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) != KindInternal {
		return err
	}
	return &InternalError{Err: err}
}

// Classify maps an error to its Kind. Errors outside the taxonomy fall back
// to message inspection so external failures (net, exec) still classify
// usefully; anything unrecognized is KindInternal.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var routing *RoutingError
	if errors.As(err, &routing) {
		return KindRouting
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return KindTimeout
	}
	var handler *HandlerError
	if errors.As(err, &handler) {
		return KindHandler
	}
	var command *ExternalCommandError
	if errors.As(err, &command) {
		return KindExternalCommand
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return KindValidation
	}
	var duplicate *DuplicateError
	if errors.As(err, &duplicate) {
		return KindDuplicate
	}
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return KindRateLimit
	}
	var circuitOpen *CircuitOpenError
	if errors.As(err, &circuitOpen) {
		return KindCircuitOpen
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "rate limit"):
		return KindRateLimit
	case strings.Contains(msg, "circuit breaker"):
		return KindCircuitOpen
	case strings.Contains(msg, "not found"):
		return KindRouting
	}

	return KindInternal
}

// IsRetryable reports whether a failed operation may be retried: deadline
// expiries, connection failures and explicitly temporary conditions. Rate
// limit and circuit breaker rejections are deliberately not retryable here;
// the breaker's recovery window governs those.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if Classify(err) == KindTimeout {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection", "temporary", "try again", "broken pipe", "reset by peer"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err classifies as a deadline expiry.
func IsTimeout(err error) bool { return err != nil && Classify(err) == KindTimeout }

// IsRouting reports whether err classifies as an unknown agent or action.
func IsRouting(err error) bool { return err != nil && Classify(err) == KindRouting }

// IsValidation reports whether err classifies as a validation failure.
func IsValidation(err error) bool { return err != nil && Classify(err) == KindValidation }

// IsDuplicate reports whether err classifies as a duplicate registration.
func IsDuplicate(err error) bool { return err != nil && Classify(err) == KindDuplicate }

// IsCircuitOpen reports whether err classifies as a breaker rejection.
func IsCircuitOpen(err error) bool { return err != nil && Classify(err) == KindCircuitOpen }

// IsRateLimit reports whether err classifies as a rate limit rejection.
func IsRateLimit(err error) bool { return err != nil && Classify(err) == KindRateLimit }
