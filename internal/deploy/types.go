package deploy

import (
	"fmt"
	"time"
)

// Deployment targets with built-in strategies.
const (
	TargetHeroku = "heroku"
	TargetVercel = "vercel"
	TargetAWS    = "aws"
)

// Deployment environments. An empty environment defaults to development.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// State is the phase of one deployment attempt. Succeeded and Failed are
// terminal.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Config describes one deployment attempt. AppName, Region and Bucket fall
// back to per-target defaults when empty.
type Config struct {
	Target      string            `json:"target"`
	Environment string            `json:"environment"`
	AppName     string            `json:"app_name,omitempty"`
	Region      string            `json:"region,omitempty"`
	Bucket      string            `json:"bucket,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// Result is the outcome of one deployment attempt. Success holds exactly
// when every command in the strategy's sequence succeeded.
type Result struct {
	Target            string        `json:"target"`
	Environment       string        `json:"environment"`
	App               string        `json:"app,omitempty"`
	Success           bool          `json:"success"`
	State             State         `json:"state"`
	URL               string        `json:"url,omitempty"`
	Logs              []string      `json:"logs"`
	Error             string        `json:"error,omitempty"`
	RollbackAvailable bool          `json:"rollback_available"`
	StartedAt         time.Time     `json:"started_at"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Deployment is what a strategy reports after its command sequence ran
// through.
type Deployment struct {
	App               string
	URL               string
	RollbackAvailable bool
}

// deploymentKey identifies an attempt slot in the executor's records.
func deploymentKey(target, environment string) string {
	return fmt.Sprintf("%s_%s", target, environment)
}
