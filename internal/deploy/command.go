package deploy

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	genesiserrors "genesis/internal/errors"
	"genesis/internal/observability"
)

// CommandOutcome is the captured result of one external command. A command
// never raises: spawn failures, non-zero exits and timeouts all come back as
// an outcome with Err set and Success false.
type CommandOutcome struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Err      error  `json:"-"`
}

// Runner executes one external command in a directory under a timeout.
type Runner interface {
	Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) CommandOutcome
}

type execRunner struct {
	logger *observability.Logger
}

// NewRunner returns the Runner backed by os/exec.
func NewRunner() Runner {
	return &execRunner{logger: observability.NewComponentLogger("deploy-command")}
}

func (r *execRunner) Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) CommandOutcome {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	command := commandLine(name, args)
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	outcome := CommandOutcome{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if runErr == nil {
		outcome.Success = true
	} else {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			outcome.ExitCode = exitErr.ExitCode()
			outcome.Err = &genesiserrors.ExternalCommandError{
				Command:  command,
				ExitCode: outcome.ExitCode,
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		} else {
			outcome.ExitCode = -1
			outcome.Err = &genesiserrors.ExternalCommandError{
				Command:  command,
				ExitCode: -1,
				Err:      runErr,
			}
		}
		if ctx.Err() == context.DeadlineExceeded {
			outcome.Err = &genesiserrors.ExternalCommandError{
				Command:  command,
				ExitCode: outcome.ExitCode,
				Err:      ctx.Err(),
			}
		}
	}

	r.logger.Debug("command finished",
		"command", command,
		"dir", dir,
		"exit_code", outcome.ExitCode,
		"success", outcome.Success,
		"elapsed", time.Since(start))
	return outcome
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
