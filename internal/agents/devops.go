package agents

import (
	"context"
	"strings"

	"genesis/internal/protocol"
)

// NewDevOps builds the agent that describes containerization, CI and
// monitoring for a generated project.
func NewDevOps() *protocol.Agent {
	agent := protocol.NewAgent(DevOpsID, "DevOps", "devops",
		"containerization", "ci_cd", "kubernetes", "monitoring")
	agent.RegisterHandler("setup_devops", setupDevOps)
	agent.RegisterHandler("generate_docker", generateDocker)
	agent.RegisterHandler("setup_cicd", setupCICD)
	agent.RegisterHandler("generate_k8s", generateK8s)
	agent.RegisterHandler("setup_monitoring", setupMonitoring)
	return agent
}

func setupDevOps(ctx context.Context, payload map[string]any) (any, error) {
	docker, _ := generateDocker(ctx, payload)
	cicd, _ := setupCICD(ctx, payload)
	monitoring, _ := setupMonitoring(ctx, payload)

	return map[string]any{
		"docker":     docker,
		"ci_cd":      cicd,
		"monitoring": monitoring,
	}, nil
}

func generateDocker(ctx context.Context, payload map[string]any) (any, error) {
	apps, services := devopsServices(payload)

	dockerfiles := make([]string, 0, len(apps))
	for _, app := range apps {
		dockerfiles = append(dockerfiles, app+"/Dockerfile")
	}
	return map[string]any{
		"dockerfiles": dockerfiles,
		"compose":     "docker-compose.yml",
		"services":    services,
	}, nil
}

func setupCICD(ctx context.Context, payload map[string]any) (any, error) {
	return map[string]any{
		"provider": "github_actions",
		"workflow": ".github/workflows/ci.yml",
		"stages":   []string{"lint", "test", "build", "deploy"},
	}, nil
}

func generateK8s(ctx context.Context, payload map[string]any) (any, error) {
	apps, _ := devopsServices(payload)

	manifests := make([]string, 0, len(apps)*2)
	for _, app := range apps {
		manifests = append(manifests,
			"k8s/"+app+"-deployment.yaml",
			"k8s/"+app+"-service.yaml",
		)
	}
	return map[string]any{
		"manifests": manifests,
		"ingress":   "k8s/ingress.yaml",
		"namespace": stringParam(payload, "namespace", "default"),
	}, nil
}

func setupMonitoring(ctx context.Context, payload map[string]any) (any, error) {
	return map[string]any{
		"metrics":    "prometheus",
		"dashboards": "grafana",
		"alerts":     []string{"error_rate", "latency_p99", "disk_usage"},
	}, nil
}

// devopsServices derives the containerized application list and the full
// compose service list from upstream backend/frontend results. A bare
// project still gets backend and database services.
func devopsServices(payload map[string]any) (apps, services []string) {
	apps = []string{"backend"}
	if mapParam(payload, "frontend") != nil || stringParam(payload, "frontend", "") != "" {
		apps = append(apps, "frontend")
	}

	database := "postgresql"
	if backend := mapParam(payload, "backend"); backend != nil {
		database = stringParam(backend, "database", database)
	}
	services = append(append([]string(nil), apps...), strings.ToLower(database))
	return apps, services
}
