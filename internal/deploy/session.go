package deploy

import (
	"context"
	"strings"
	"time"

	"genesis/internal/observability"
)

// Session is the working state of one deployment attempt, shared between the
// executor and its strategy. A session belongs to a single attempt
// goroutine; Run appends each command's output to the attempt logs in order.
type Session struct {
	ProjectDir string
	Config     Config

	runner  Runner
	timeout time.Duration
	logs    []string
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	logger  *observability.Logger
}

// Run executes one command in the project directory and records its output.
func (s *Session) Run(ctx context.Context, name string, args ...string) CommandOutcome {
	command := commandLine(name, args)

	ctx, span := s.tracer.StartSpan(ctx, observability.SpanDeployCommand, observability.CommandAttrs(s.Config.Target, command)...)
	defer span.End()

	outcome := s.runner.Run(ctx, s.ProjectDir, s.timeout, name, args...)

	status := "success"
	if !outcome.Success {
		status = "error"
	}
	span.SetAttributes(observability.StatusAttrs(status)...)
	if outcome.Err != nil {
		span.SetAttributes(observability.ErrorAttrs(outcome.Err)...)
	}
	s.metrics.RecordDeployCommand(ctx, s.Config.Target, status)

	s.Log("$ " + command)
	s.appendOutput(outcome.Stdout)
	s.appendOutput(outcome.Stderr)
	if outcome.Err != nil {
		s.Log("error: " + outcome.Err.Error())
	}
	return outcome
}

// Log appends one line to the attempt logs.
func (s *Session) Log(line string) {
	s.logs = append(s.logs, line)
}

// Logs returns the accumulated attempt logs.
func (s *Session) Logs() []string {
	return append([]string(nil), s.logs...)
}

func (s *Session) appendOutput(text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	s.logs = append(s.logs, strings.Split(text, "\n")...)
}
