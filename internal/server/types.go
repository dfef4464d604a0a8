package server

import (
	"time"
)

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the payload of GET /api/health.
type HealthResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Uptime      string    `json:"uptime"`
	Agents      int       `json:"agents"`
	Timestamp   time.Time `json:"timestamp"`
}

// DeploymentRequest is the body of POST /api/deployments.
type DeploymentRequest struct {
	ProjectDir  string            `json:"project_dir"`
	Target      string            `json:"target"`
	Environment string            `json:"environment,omitempty"`
	AppName     string            `json:"app_name,omitempty"`
	Region      string            `json:"region,omitempty"`
	Bucket      string            `json:"bucket,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// StreamEvent is one message pushed over the /api/events/stream websocket.
type StreamEvent struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
