// Package agents provides the built-in roster: thin domain agents that
// exercise the protocol end to end. Handlers emit structured descriptions of
// their work; rendering actual source trees is left to external tooling.
package agents

import (
	"strings"

	"genesis/internal/deploy"
	"genesis/internal/protocol"
)

// Built-in agent ids.
const (
	ArchitectID = "architect_agent"
	BackendID   = "backend_agent"
	FrontendID  = "frontend_agent"
	DevOpsID    = "devops_agent"
	DeployID    = "deploy_agent"
)

// RegisterBuiltins constructs the built-in agents and registers them in
// roster order. The deploy agent wraps the given executor.
func RegisterBuiltins(registry *protocol.Registry, executor *deploy.Executor) error {
	for _, agent := range []*protocol.Agent{
		NewArchitect(),
		NewBackend(),
		NewFrontend(),
		NewDevOps(),
		NewDeploy(executor),
	} {
		if err := registry.Register(agent); err != nil {
			return err
		}
	}
	return nil
}

func stringParam(payload map[string]any, key, fallback string) string {
	if payload == nil {
		return fallback
	}
	if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func boolParam(payload map[string]any, key string, fallback bool) bool {
	if payload == nil {
		return fallback
	}
	if value, ok := payload[key].(bool); ok {
		return value
	}
	return fallback
}

// stringsParam accepts both []string and []any payload shapes; JSON decoding
// produces the latter.
func stringsParam(payload map[string]any, key string) []string {
	if payload == nil {
		return nil
	}
	switch values := payload[key].(type) {
	case []string:
		return append([]string(nil), values...)
	case []any:
		out := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func mapParam(payload map[string]any, key string) map[string]any {
	if payload == nil {
		return nil
	}
	if value, ok := payload[key].(map[string]any); ok {
		return value
	}
	return nil
}

// mergeUnique appends extras to base, skipping duplicates, preserving order.
func mergeUnique(base []string, extras []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extras))
	merged := make([]string, 0, len(base)+len(extras))
	for _, value := range append(append([]string(nil), base...), extras...) {
		if _, ok := seen[value]; ok || value == "" {
			continue
		}
		seen[value] = struct{}{}
		merged = append(merged, value)
	}
	return merged
}
