package agents

import (
	"context"
	"fmt"

	"genesis/internal/deploy"
	genesiserrors "genesis/internal/errors"
	"genesis/internal/protocol"
)

// NewDeploy builds the agent that fronts the deployment executor. A failed
// deployment is still a successful handler call: the outcome travels in the
// result payload, not as a handler error.
func NewDeploy(executor *deploy.Executor) *protocol.Agent {
	agent := protocol.NewAgent(DeployID, "Deploy", "deploy",
		"deployment", "rollback", "status")
	agent.RegisterHandler("deploy_project", deployProject(executor))
	agent.RegisterHandler("get_status", deployStatus(executor))
	agent.RegisterHandler("rollback", deployRollback(executor))
	return agent
}

func deployProject(executor *deploy.Executor) protocol.Handler {
	return func(ctx context.Context, payload map[string]any) (any, error) {
		projectDir := stringParam(payload, "project_dir", "")
		if projectDir == "" {
			return nil, &genesiserrors.ValidationError{
				Field:  "project_dir",
				Reason: "required",
			}
		}
		cfg := deploy.Config{
			Target:      stringParam(payload, "target", ""),
			Environment: stringParam(payload, "environment", ""),
			AppName:     stringParam(payload, "app_name", ""),
			Region:      stringParam(payload, "region", ""),
			Bucket:      stringParam(payload, "bucket", ""),
		}
		if options := mapParam(payload, "options"); len(options) > 0 {
			cfg.Options = make(map[string]string, len(options))
			for key, value := range options {
				cfg.Options[key] = fmt.Sprint(value)
			}
		}
		return executor.Deploy(ctx, projectDir, cfg), nil
	}
}

func deployStatus(executor *deploy.Executor) protocol.Handler {
	return func(ctx context.Context, payload map[string]any) (any, error) {
		return executor.Status(), nil
	}
}

func deployRollback(executor *deploy.Executor) protocol.Handler {
	return func(ctx context.Context, payload map[string]any) (any, error) {
		projectDir := stringParam(payload, "project_dir", "")
		if projectDir == "" {
			return nil, &genesiserrors.ValidationError{
				Field:  "project_dir",
				Reason: "required",
			}
		}
		target := stringParam(payload, "target", "")
		if target == "" {
			return nil, &genesiserrors.ValidationError{
				Field:  "target",
				Reason: "required",
			}
		}
		environment := stringParam(payload, "environment", deploy.EnvDevelopment)
		if err := executor.Rollback(ctx, projectDir, target, environment); err != nil {
			return nil, err
		}
		return map[string]any{
			"target":      target,
			"environment": environment,
			"rolled_back": true,
		}, nil
	}
}
