package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/agents"
	"genesis/internal/config"
	"genesis/internal/deploy"
	"genesis/internal/orchestrator"
	"genesis/internal/protocol"
)

// okRunner satisfies every external command so deployments succeed without
// real CLIs.
type okRunner struct{}

func (okRunner) Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) deploy.CommandOutcome {
	return deploy.CommandOutcome{Success: true}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Workflow.WriteProjectFiles = false
	if mutate != nil {
		mutate(&cfg)
	}

	registry := protocol.NewRegistry()
	executor := deploy.NewExecutor(
		deploy.WithRunner(okRunner{}),
		deploy.WithCommandTimeout(time.Second),
	)
	require.NoError(t, agents.RegisterBuiltins(registry, executor))

	dispatcher := protocol.NewDispatcher(registry)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	orch := orchestrator.New(dispatcher, cfg)

	s, err := New(cfg, dispatcher, orch, executor, WithVersion("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var envelope struct {
		Success bool           `json:"success"`
		Data    HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "ok", envelope.Data.Status)
	assert.Equal(t, "test", envelope.Data.Version)
	// five builtins plus the event stream agent
	assert.Equal(t, 6, envelope.Data.Agents)
}

func TestListAgents(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Agents []map[string]any `json:"agents"`
			Count  int              `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	require.Equal(t, 6, envelope.Data.Count)

	// registration order: builtins first, stream agent last
	assert.Equal(t, agents.ArchitectID, envelope.Data.Agents[0]["agent_id"])
	assert.Equal(t, StreamAgentID, envelope.Data.Agents[5]["agent_id"])
}

func TestGetAgent(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodGet, "/api/agents/"+agents.ArchitectID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, agents.ArchitectID, envelope.Data["agent_id"])
	assert.Equal(t, "ready", envelope.Data["status"])
}

func TestGetAgent_Unknown(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodGet, "/api/agents/nobody", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	var envelope APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.False(t, envelope.Success)
	assert.Contains(t, envelope.Error, "nobody")
}

func TestGenerate(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodPost, "/api/generate", map[string]any{
		"project_name": "shop",
		"template":     "ecommerce",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var envelope struct {
		Success bool                                 `json:"success"`
		Data    orchestrator.ProjectGenerationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.True(t, envelope.Data.Success)
	assert.Equal(t, []string{
		"analyze_requirements",
		"design_architecture",
		"generate_schema",
		"generate_backend",
		"generate_frontend",
	}, envelope.Data.CompletedSteps)
}

func TestGenerate_UnsupportedTemplate(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodPost, "/api/generate", map[string]any{
		"project_name": "shop",
		"template":     "kiosk",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.False(t, envelope.Success)
	assert.Contains(t, envelope.Error, "kiosk")
}

func TestGenerate_MalformedBody(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCurrentWorkflow(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodGet, "/api/workflows/current", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var envelope struct {
		Data orchestrator.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.Equal(t, orchestrator.WorkflowIdle, envelope.Data.Status)

	doRequest(t, s, http.MethodPost, "/api/generate", map[string]any{"project_name": "shop"})

	rr = doRequest(t, s, http.MethodGet, "/api/workflows/current", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.Equal(t, orchestrator.WorkflowSucceeded, envelope.Data.Status)
}

func TestCreateDeployment(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodPost, "/api/deployments", DeploymentRequest{
		ProjectDir: t.TempDir(),
		Target:     "heroku",
		AppName:    "shop",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var envelope struct {
		Success bool          `json:"success"`
		Data    deploy.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, deploy.StateSucceeded, envelope.Data.State)
	assert.Equal(t, "shop", envelope.Data.App)
}

func TestCreateDeployment_MissingFields(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodPost, "/api/deployments", DeploymentRequest{Target: "heroku"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, s, http.MethodPost, "/api/deployments", DeploymentRequest{ProjectDir: t.TempDir()})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListDeployments(t *testing.T) {
	s := newTestServer(t, nil)

	doRequest(t, s, http.MethodPost, "/api/deployments", DeploymentRequest{
		ProjectDir: t.TempDir(),
		Target:     "vercel",
	})

	rr := doRequest(t, s, http.MethodGet, "/api/deployments", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var envelope struct {
		Data deploy.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.Equal(t, int64(1), envelope.Data.Total)
	assert.Equal(t, []string{"aws", "heroku", "vercel"}, envelope.Data.Targets)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, nil)

	doRequest(t, s, http.MethodGet, "/api/agents/"+agents.BackendID, nil)

	rr := doRequest(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var envelope struct {
		Data struct {
			Dispatcher protocol.Stats `json:"dispatcher"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	assert.GreaterOrEqual(t, envelope.Data.Dispatcher.RequestsDispatched, int64(1))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimitRPS = 1
		cfg.Server.RateLimitBurst = 1
	})

	first := doRequest(t, s, http.MethodGet, "/api/health", nil)
	second := doRequest(t, s, http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	var envelope APIResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &envelope))
	assert.Contains(t, envelope.Error, "rate limit")
}
