package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"genesis/internal/protocol"
)

// Built-in agent ids the canonical generation workflow dispatches to.
const (
	architectAgentID = "architect_agent"
	backendAgentID   = "backend_agent"
	frontendAgentID  = "frontend_agent"
	devopsAgentID    = "devops_agent"
)

// GenerationRequest describes one project generation. Empty technology
// fields fall back to configured defaults; an explicit Steps list replaces
// the canonical workflow entirely.
type GenerationRequest struct {
	ProjectName  string         `json:"project_name"`
	Template     string         `json:"template,omitempty"`
	Features     []string       `json:"features,omitempty"`
	Backend      string         `json:"backend,omitempty"`
	Frontend     string         `json:"frontend,omitempty"`
	Database     string         `json:"database,omitempty"`
	DeployTarget string         `json:"deploy_target,omitempty"`
	OutputDir    string         `json:"output_dir,omitempty"`
	EnableDevOps bool           `json:"enable_devops,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
	Steps        []Step         `json:"steps,omitempty"`
}

// Metadata describes the workflow run behind a generation result.
type Metadata struct {
	WorkflowID    string        `json:"workflow_id"`
	WorkflowName  string        `json:"workflow_name"`
	TotalSteps    int           `json:"total_steps"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// ProjectGenerationResult aggregates one generation run. CompletedSteps
// holds exactly the step ids that finished before any failure, in order.
type ProjectGenerationResult struct {
	Success        bool                `json:"success"`
	ProjectName    string              `json:"project_name"`
	CompletedSteps []string            `json:"completed_steps"`
	StepResults    map[string]any      `json:"step_results"`
	FailedStep     string              `json:"failed_step,omitempty"`
	Error          *protocol.ErrorInfo `json:"error,omitempty"`
	Metadata       Metadata            `json:"metadata"`
}

// buildGenerationSteps assembles the canonical workflow: requirements
// analysis, architecture and schema through the architect, then backend and
// frontend generation, then devops setup when enabled. Later steps consume
// earlier results through param templating.
func buildGenerationSteps(req GenerationRequest) []Step {
	steps := []Step{
		{
			ID:     "analyze_requirements",
			Name:   "Analyze requirements",
			Agent:  architectAgentID,
			Action: "analyze_requirements",
			Params: map[string]any{
				"project_name": req.ProjectName,
				"template":     req.Template,
				"features":     req.Features,
			},
		},
		{
			ID:     "design_architecture",
			Name:   "Design architecture",
			Agent:  architectAgentID,
			Action: "design_architecture",
			Params: map[string]any{
				"requirements": "{{analyze_requirements}}",
				"template":     req.Template,
			},
			Dependencies: []string{"analyze_requirements"},
		},
		{
			ID:     "generate_schema",
			Name:   "Generate schema",
			Agent:  architectAgentID,
			Action: "generate_schema",
			Params: map[string]any{
				"architecture": "{{design_architecture}}",
				"database":     req.Database,
			},
			Dependencies: []string{"design_architecture"},
		},
		{
			ID:     "generate_backend",
			Name:   "Generate backend",
			Agent:  backendAgentID,
			Action: "generate_backend",
			Params: map[string]any{
				"schema":    "{{generate_schema}}",
				"framework": req.Backend,
				"features":  req.Features,
				"database":  req.Database,
			},
			Dependencies: []string{"generate_schema"},
		},
		{
			ID:     "generate_frontend",
			Name:   "Generate frontend",
			Agent:  frontendAgentID,
			Action: "generate_frontend",
			Params: map[string]any{
				"architecture": "{{design_architecture}}",
				"framework":    req.Frontend,
				"features":     req.Features,
			},
			Dependencies: []string{"design_architecture"},
		},
	}

	if req.EnableDevOps {
		steps = append(steps, Step{
			ID:     "setup_devops",
			Name:   "Set up devops",
			Agent:  devopsAgentID,
			Action: "setup_devops",
			Params: map[string]any{
				"project_name": req.ProjectName,
				"backend":      "{{generate_backend}}",
				"frontend":     "{{generate_frontend}}",
			},
			Dependencies: []string{"generate_backend", "generate_frontend"},
		})
	}
	return steps
}

// projectManifest is the genesis.json written into a generated project.
type projectManifest struct {
	Name        string    `json:"name"`
	GeneratedAt time.Time `json:"generated_at"`
	Generator   string    `json:"generator"`
	Version     string    `json:"version"`
	WorkflowID  string    `json:"workflow_id"`
	Steps       []string  `json:"steps"`
}

// writeProjectFiles materializes the generation manifest and a README
// scaffold under <outputDir>/<project>.
func writeProjectFiles(outputDir string, manifest projectManifest, template string) error {
	projectDir := filepath.Join(outputDir, manifest.Name)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(projectDir, "genesis.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing project manifest: %w", err)
	}

	readme := buildReadme(manifest, template)
	if err := os.WriteFile(filepath.Join(projectDir, "README.md"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("writing project readme: %w", err)
	}
	return nil
}

func buildReadme(manifest projectManifest, template string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", manifest.Name)
	if template != "" {
		fmt.Fprintf(&b, "Generated from the `%s` template by %s %s.\n\n", template, manifest.Generator, manifest.Version)
	} else {
		fmt.Fprintf(&b, "Generated by %s %s.\n\n", manifest.Generator, manifest.Version)
	}
	b.WriteString("## Generation steps\n\n")
	for _, step := range manifest.Steps {
		fmt.Fprintf(&b, "- %s\n", step)
	}
	b.WriteString("\nSee `genesis.json` for the full generation record.\n")
	return b.String()
}
