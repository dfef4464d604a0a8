package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"genesis/internal/config"
	"genesis/internal/orchestrator"
)

// newGenerateCommand creates the generate subcommand
func newGenerateCommand() *cobra.Command {
	var (
		template string
		features []string
		backend  string
		frontend string
		database string
		output   string
		devops   bool
	)

	cmd := &cobra.Command{
		Use:   "generate <name>",
		Short: "Generate a project through the agent workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := config.Overrides{}
			if cmd.Flags().Changed("output") {
				overrides.OutputDir = &output
				writeFiles := true
				overrides.WriteProjectFiles = &writeFiles
			}

			eng, err := buildEngine(false, overrides,
				orchestrator.WithListener(orchestrator.ListenerFunc(printProgress)))
			if err != nil {
				return err
			}
			defer eng.Close()

			req := orchestrator.GenerationRequest{
				ProjectName:  args[0],
				Template:     template,
				Features:     features,
				Backend:      backend,
				Frontend:     frontend,
				Database:     database,
				EnableDevOps: devops,
			}

			fmt.Printf("%s %s\n", bold("Generating"), bold(req.ProjectName))
			result := eng.orch.ExecuteProjectGeneration(cmd.Context(), req)
			if !result.Success {
				if result.FailedStep != "" {
					return fmt.Errorf("generation failed at step %s: %s", result.FailedStep, result.Error.Message)
				}
				return fmt.Errorf("generation failed: %s", result.Error.Message)
			}

			fmt.Printf("\n%s %s generated: %d steps in %s\n",
				green("✓"), bold(result.ProjectName),
				len(result.CompletedSteps),
				result.Metadata.ExecutionTime.Round(time.Millisecond))
			if eng.cfg.Workflow.WriteProjectFiles && eng.cfg.Workflow.OutputDir != "" {
				projectDir := filepath.Join(eng.cfg.Workflow.OutputDir, result.ProjectName)
				fmt.Printf("  %s\n", gray("written to "+projectDir))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "Project template (saas-basic, ecommerce, web-app)")
	cmd.Flags().StringSliceVarP(&features, "features", "f", nil, "Extra features to include")
	cmd.Flags().StringVar(&backend, "backend", "", "Backend framework")
	cmd.Flags().StringVar(&frontend, "frontend", "", "Frontend framework")
	cmd.Flags().StringVar(&database, "database", "", "Database engine")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory to write the project scaffold under")
	cmd.Flags().BoolVar(&devops, "devops", false, "Include the devops setup step")

	return cmd
}

// printProgress renders one workflow lifecycle event as a status line.
func printProgress(event orchestrator.ProgressEvent) {
	step := event.Step
	if step == nil {
		return
	}
	switch event.Type {
	case orchestrator.EventStepStarted:
		fmt.Printf("%s %s\n", cyan("▸"), step.Name)
	case orchestrator.EventStepSucceeded:
		fmt.Printf("%s %s %s\n", green("✓"), step.Name, gray(step.Elapsed.Round(time.Millisecond).String()))
	case orchestrator.EventStepFailed:
		fmt.Printf("%s %s: %s\n", red("✗"), step.Name, step.Error)
	}
}
