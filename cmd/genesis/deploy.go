package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"genesis/internal/config"
	"genesis/internal/deploy"
)

// newDeployCommand creates the deploy subcommand
func newDeployCommand() *cobra.Command {
	var (
		target      string
		environment string
		app         string
		region      string
		bucket      string
		rollback    bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <dir>",
		Short: "Deploy a project directory to heroku, vercel or aws",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(false, config.Overrides{})
			if err != nil {
				return err
			}
			defer eng.Close()

			if rollback {
				fmt.Printf("%s %s on %s (%s)\n", bold("Rolling back"), args[0], target, environment)
				if err := eng.executor.Rollback(cmd.Context(), args[0], target, environment); err != nil {
					return fmt.Errorf("rollback: %w", err)
				}
				fmt.Printf("%s restored the previous release\n", yellow("↩"))
				return nil
			}

			fmt.Printf("%s %s to %s (%s)\n", bold("Deploying"), args[0], target, environment)
			result := eng.executor.Deploy(cmd.Context(), args[0], deploy.Config{
				Target:      target,
				Environment: environment,
				AppName:     app,
				Region:      region,
				Bucket:      bucket,
			})

			printDeployResult(result)
			if !result.Success {
				return fmt.Errorf("deployment to %s failed", result.Target)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "heroku", "Deployment target (heroku, vercel, aws)")
	cmd.Flags().StringVar(&environment, "env", deploy.EnvDevelopment, "Deployment environment")
	cmd.Flags().StringVar(&app, "app", "", "Application name (defaults to the project directory name)")
	cmd.Flags().StringVar(&region, "region", "", "Cloud region (aws)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Artifact bucket (aws)")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Roll back the last deployment instead of deploying")

	return cmd
}

// printDeployResult renders one deployment Result.
func printDeployResult(result deploy.Result) {
	if result.Success {
		fmt.Printf("%s deployed %s to %s (%s) in %s\n",
			green("✓"), bold(result.App), result.Target, result.Environment,
			result.Elapsed.Round(time.Millisecond))
		if result.URL != "" {
			fmt.Printf("  %s %s\n", gray("url:"), cyan(result.URL))
		}
		if result.RollbackAvailable {
			fmt.Printf("  %s\n", gray("rollback available"))
		}
		return
	}

	fmt.Printf("%s deployment to %s failed: %s\n", red("✗"), result.Target, result.Error)
	for _, line := range result.Logs {
		fmt.Printf("  %s\n", gray(line))
	}
}
