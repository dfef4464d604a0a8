package agents

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/config"
	"genesis/internal/deploy"
	genesiserrors "genesis/internal/errors"
	"genesis/internal/orchestrator"
	"genesis/internal/protocol"
)

// stubRunner answers every external command successfully, except commands
// matching the fail prefix.
type stubRunner struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (r *stubRunner) Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) deploy.CommandOutcome {
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.mu.Lock()
	r.calls = append(r.calls, command)
	r.mu.Unlock()

	if r.fail != "" && strings.HasPrefix(command, r.fail) {
		return deploy.CommandOutcome{
			ExitCode: 1,
			Stderr:   "rejected",
			Err:      &genesiserrors.ExternalCommandError{Command: command, ExitCode: 1, Stderr: "rejected"},
		}
	}
	return deploy.CommandOutcome{Success: true}
}

func (r *stubRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func callAgent(t *testing.T, agent *protocol.Agent, action string, payload map[string]any) map[string]any {
	t.Helper()
	req := protocol.NewRequest("tester", agent.ID, action, payload)
	result := agent.HandleRequest(context.Background(), req)
	require.True(t, result.Success, "action %s failed: %+v", action, result.Error)
	value, ok := result.Value.(map[string]any)
	require.True(t, ok, "action %s returned %T", action, result.Value)
	return value
}

func newDeployAgent(t *testing.T, runner deploy.Runner) *protocol.Agent {
	t.Helper()
	executor := deploy.NewExecutor(
		deploy.WithRunner(runner),
		deploy.WithCommandTimeout(time.Second),
	)
	return NewDeploy(executor)
}

func TestRegisterBuiltins(t *testing.T) {
	registry := protocol.NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, deploy.NewExecutor()))

	ids := make([]string, 0, registry.Len())
	for _, agent := range registry.List() {
		ids = append(ids, agent.ID)
	}
	assert.Equal(t, []string{ArchitectID, BackendID, FrontendID, DevOpsID, DeployID}, ids)
}

func TestRegisterBuiltins_DuplicateRegistration(t *testing.T) {
	registry := protocol.NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, deploy.NewExecutor()))

	err := RegisterBuiltins(registry, deploy.NewExecutor())
	var duplicate *genesiserrors.DuplicateError
	require.ErrorAs(t, err, &duplicate)
	assert.Equal(t, ArchitectID, duplicate.ID)
}

func TestArchitect_AnalyzeRequirements(t *testing.T) {
	architect := NewArchitect()

	value := callAgent(t, architect, "analyze_requirements", map[string]any{
		"template": "saas-basic",
		"features": []any{"audit_log", "billing"},
	})

	assert.Equal(t, "saas-basic", value["template"])
	assert.Equal(t, []string{"User", "Organization", "Subscription", "Payment"}, value["entities"])
	assert.Equal(t, []string{"authentication", "billing", "multi_tenancy", "audit_log"}, value["features"])
	assert.Equal(t, 4*2+4*3, value["complexity"])
	assert.Equal(t, 3, value["estimated_weeks"])
}

func TestArchitect_AnalyzeRequirements_UnknownTemplate(t *testing.T) {
	architect := NewArchitect()

	value := callAgent(t, architect, "analyze_requirements", map[string]any{
		"template": "kiosk",
	})

	assert.Equal(t, []string{"User"}, value["entities"])
}

func TestArchitect_DesignArchitecture(t *testing.T) {
	architect := NewArchitect()

	cases := []struct {
		name     string
		entities []any
		pattern  string
		layers   []string
	}{
		{
			name:     "small domain stays layered",
			entities: []any{"User", "Order"},
			pattern:  "layered",
			layers:   []string{"api", "service", "model"},
		},
		{
			name:     "large domain goes clean",
			entities: []any{"User", "Product", "Order", "Payment", "Category"},
			pattern:  "clean",
			layers:   []string{"api", "service", "repository", "model"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			value := callAgent(t, architect, "design_architecture", map[string]any{
				"requirements": map[string]any{"entities": tc.entities},
			})

			assert.Equal(t, tc.pattern, value["pattern"])
			assert.Equal(t, tc.layers, value["layers"])

			components, ok := value["components"].(map[string]any)
			require.True(t, ok)
			assert.Len(t, components, len(tc.entities))
			assert.Equal(t, []string{"user_model", "user_service", "user_api"}, components["User"])
		})
	}
}

func TestArchitect_GenerateSchema(t *testing.T) {
	architect := NewArchitect()

	value := callAgent(t, architect, "generate_schema", map[string]any{
		"architecture": map[string]any{"entities": []any{"User"}},
		"database":     "mysql",
	})

	assert.Equal(t, "mysql", value["database"])
	assert.Equal(t, 1, value["table_count"])

	tables, ok := value["tables"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t,
		[]string{"id", "email", "password", "name", "active", "created_at", "updated_at"},
		tables["users"])
}

func TestArchitect_Relationships(t *testing.T) {
	architect := NewArchitect()

	value := callAgent(t, architect, "analyze_requirements", map[string]any{
		"template": "ecommerce",
	})

	relationships, ok := value["relationships"].([]map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, relationships)

	// orders reference users through orders.user_id
	found := false
	for _, rel := range relationships {
		if rel["from"] == "User" && rel["to"] == "Order" {
			found = true
			assert.Equal(t, "orders.user_id", rel["via"])
		}
	}
	assert.True(t, found, "expected a User->Order relationship, got %v", relationships)
}

func TestBackend_GenerateBackend(t *testing.T) {
	backend := NewBackend()

	value := callAgent(t, backend, "generate_backend", map[string]any{
		"schema": map[string]any{
			"tables": map[string]any{"users": []any{}, "orders": []any{}},
		},
	})

	assert.Equal(t, "fastapi", value["framework"])
	assert.Equal(t, "postgresql", value["database"])
	assert.Equal(t, []string{"Order", "User"}, value["entities"])
	assert.Equal(t, backendFiles["fastapi"], value["generated_files"])

	endpoints, ok := value["endpoints"].([]string)
	require.True(t, ok)
	assert.Len(t, endpoints, 10)
	assert.Contains(t, endpoints, "GET /api/users")
	assert.Contains(t, endpoints, "DELETE /api/orders/{id}")
}

func TestBackend_UnknownFrameworkFallsBack(t *testing.T) {
	backend := NewBackend()

	value := callAgent(t, backend, "generate_backend", map[string]any{
		"framework": "cobol",
	})

	assert.Equal(t, backendFiles["fastapi"], value["generated_files"])
}

func TestBackend_SetupDatabase(t *testing.T) {
	backend := NewBackend()

	value := callAgent(t, backend, "setup_database", map[string]any{
		"entities": []any{"User", "Order"},
		"database": "sqlite",
	})

	assert.Equal(t, "sqlite", value["database"])
	assert.Equal(t, []string{"0001_create_users.sql", "0002_create_orders.sql"}, value["migrations"])
}

func TestBackend_GenerateModels(t *testing.T) {
	backend := NewBackend()

	value := callAgent(t, backend, "generate_models", map[string]any{
		"entities": []any{"User"},
	})

	models, ok := value["models"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, models, 1)
	assert.Equal(t, "User", models[0]["name"])
	assert.Equal(t, "users", models[0]["table"])
	assert.Equal(t,
		[]string{"id", "email", "password", "name", "active", "created_at", "updated_at"},
		models[0]["fields"])
}

func TestFrontend_GenerateFrontend(t *testing.T) {
	frontend := NewFrontend()

	value := callAgent(t, frontend, "generate_frontend", map[string]any{
		"architecture": map[string]any{"entities": []any{"User"}},
		"framework":    "react",
	})

	assert.Equal(t, "react", value["framework"])
	assert.Equal(t, []string{"/", "/login", "/register", "/users", "/users/:id"}, value["routes"])
	assert.Equal(t, []string{"UserList", "UserDetail", "UserForm"}, value["components"])
	assert.Equal(t, frontendFiles["react"], value["generated_files"])
}

func TestFrontend_SetupRouting(t *testing.T) {
	frontend := NewFrontend()

	value := callAgent(t, frontend, "setup_routing", map[string]any{
		"entities": []any{"Product", "Order"},
	})

	routes, ok := value["routes"].([]string)
	require.True(t, ok)
	assert.Contains(t, routes, "/products")
	assert.Contains(t, routes, "/orders/:id")
	assert.Equal(t, []string{"auth"}, value["guards"])
}

func TestDevOps_GenerateDocker(t *testing.T) {
	devops := NewDevOps()

	value := callAgent(t, devops, "generate_docker", map[string]any{
		"backend":  map[string]any{"database": "mysql"},
		"frontend": map[string]any{"framework": "react"},
	})

	assert.Equal(t, []string{"backend/Dockerfile", "frontend/Dockerfile"}, value["dockerfiles"])
	assert.Equal(t, []string{"backend", "frontend", "mysql"}, value["services"])
	assert.Equal(t, "docker-compose.yml", value["compose"])
}

func TestDevOps_GenerateDockerBareProject(t *testing.T) {
	devops := NewDevOps()

	value := callAgent(t, devops, "generate_docker", nil)

	assert.Equal(t, []string{"backend/Dockerfile"}, value["dockerfiles"])
	assert.Equal(t, []string{"backend", "postgresql"}, value["services"])
}

func TestDevOps_GenerateK8s(t *testing.T) {
	devops := NewDevOps()

	value := callAgent(t, devops, "generate_k8s", map[string]any{
		"frontend":  map[string]any{},
		"namespace": "shop",
	})

	assert.Equal(t, []string{
		"k8s/backend-deployment.yaml",
		"k8s/backend-service.yaml",
		"k8s/frontend-deployment.yaml",
		"k8s/frontend-service.yaml",
	}, value["manifests"])
	assert.Equal(t, "shop", value["namespace"])
}

func TestDevOps_SetupDevOps(t *testing.T) {
	devops := NewDevOps()

	value := callAgent(t, devops, "setup_devops", map[string]any{})

	assert.Contains(t, value, "docker")
	assert.Contains(t, value, "ci_cd")
	assert.Contains(t, value, "monitoring")

	cicd, ok := value["ci_cd"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "github_actions", cicd["provider"])
}

func TestDeployAgent_DeployProject(t *testing.T) {
	runner := &stubRunner{}
	agent := newDeployAgent(t, runner)

	req := protocol.NewRequest("tester", DeployID, "deploy_project", map[string]any{
		"project_dir": t.TempDir(),
		"target":      "heroku",
		"environment": "staging",
		"app_name":    "shop",
	})
	result := agent.HandleRequest(context.Background(), req)
	require.True(t, result.Success)

	deployment, ok := result.Value.(deploy.Result)
	require.True(t, ok, "deploy_project returned %T", result.Value)
	assert.True(t, deployment.Success)
	assert.Equal(t, deploy.StateSucceeded, deployment.State)
	assert.Equal(t, "heroku", deployment.Target)
	assert.Equal(t, "staging", deployment.Environment)
	assert.Equal(t, "shop", deployment.App)
	assert.Equal(t, "https://shop.herokuapp.com", deployment.URL)
	assert.Contains(t, runner.commands(), "heroku create shop")
}

func TestDeployAgent_DeployProjectRequiresDir(t *testing.T) {
	agent := newDeployAgent(t, &stubRunner{})

	req := protocol.NewRequest("tester", DeployID, "deploy_project", map[string]any{
		"target": "heroku",
	})
	result := agent.HandleRequest(context.Background(), req)

	require.False(t, result.Success)
	assert.Equal(t, genesiserrors.KindValidation, result.Error.Kind)
	assert.Contains(t, result.Error.Message, "project_dir")
}

func TestDeployAgent_FailedDeploymentIsAHandledResult(t *testing.T) {
	runner := &stubRunner{fail: "git push"}
	agent := newDeployAgent(t, runner)

	req := protocol.NewRequest("tester", DeployID, "deploy_project", map[string]any{
		"project_dir": t.TempDir(),
		"target":      "heroku",
		"app_name":    "shop",
	})
	result := agent.HandleRequest(context.Background(), req)

	// The handler call succeeds; the failure travels in the payload.
	require.True(t, result.Success)
	deployment, ok := result.Value.(deploy.Result)
	require.True(t, ok)
	assert.False(t, deployment.Success)
	assert.Equal(t, deploy.StateFailed, deployment.State)
	assert.Contains(t, deployment.Error, "git push")
}

func TestDeployAgent_StatusAndRollback(t *testing.T) {
	runner := &stubRunner{}
	agent := newDeployAgent(t, runner)
	dir := t.TempDir()

	deployReq := protocol.NewRequest("tester", DeployID, "deploy_project", map[string]any{
		"project_dir": dir,
		"target":      "heroku",
		"app_name":    "shop",
	})
	require.True(t, agent.HandleRequest(context.Background(), deployReq).Success)

	statusReq := protocol.NewRequest("tester", DeployID, "get_status", nil)
	statusResult := agent.HandleRequest(context.Background(), statusReq)
	require.True(t, statusResult.Success)

	status, ok := statusResult.Value.(deploy.Status)
	require.True(t, ok)
	assert.Equal(t, int64(1), status.Total)
	require.Len(t, status.Recent, 1)
	assert.Equal(t, "shop", status.Recent[0].App)

	rollbackReq := protocol.NewRequest("tester", DeployID, "rollback", map[string]any{
		"project_dir": dir,
		"target":      "heroku",
	})
	rollbackResult := agent.HandleRequest(context.Background(), rollbackReq)
	require.True(t, rollbackResult.Success)

	value, ok := rollbackResult.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, value["rolled_back"])
	assert.Contains(t, runner.commands(), "heroku releases:rollback -a shop")
}

func TestDeployAgent_RollbackWithoutHistory(t *testing.T) {
	agent := newDeployAgent(t, &stubRunner{})

	req := protocol.NewRequest("tester", DeployID, "rollback", map[string]any{
		"project_dir": t.TempDir(),
		"target":      "vercel",
	})
	result := agent.HandleRequest(context.Background(), req)

	require.False(t, result.Success)
	assert.Equal(t, genesiserrors.KindValidation, result.Error.Kind)
}

// The built-in roster drives the canonical generation workflow end to end:
// results flow between agents through param templating.
func TestBuiltins_CanonicalGeneration(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.WriteProjectFiles = false

	registry := protocol.NewRegistry()
	executor := deploy.NewExecutor(deploy.WithRunner(&stubRunner{}))
	require.NoError(t, RegisterBuiltins(registry, executor))

	dispatcher := protocol.NewDispatcher(registry)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	o := orchestrator.New(dispatcher, cfg)
	result := o.ExecuteProjectGeneration(context.Background(), orchestrator.GenerationRequest{
		ProjectName:  "shop",
		Template:     "ecommerce",
		EnableDevOps: true,
	})

	require.True(t, result.Success, "generation failed: %+v", result.Error)
	assert.Equal(t, []string{
		"analyze_requirements",
		"design_architecture",
		"generate_schema",
		"generate_backend",
		"generate_frontend",
		"setup_devops",
	}, result.CompletedSteps)

	architecture, ok := result.StepResults["design_architecture"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "clean", architecture["pattern"])

	schema, ok := result.StepResults["generate_schema"].(map[string]any)
	require.True(t, ok)
	tables, ok := schema["tables"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, tables, 5)
	assert.Contains(t, tables, "products")

	backend, ok := result.StepResults["generate_backend"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fastapi", backend["framework"])
	assert.Equal(t, []string{"Category", "Order", "Payment", "Product", "User"}, backend["entities"])

	devops, ok := result.StepResults["setup_devops"].(map[string]any)
	require.True(t, ok)
	docker, ok := devops["docker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"backend", "frontend", "postgresql"}, docker["services"])

	snapshot := o.Status()
	assert.Equal(t, orchestrator.WorkflowSucceeded, snapshot.Status)
	assert.Equal(t, 6, snapshot.Completed)
	assert.Equal(t, float64(100), snapshot.Percent)
}
