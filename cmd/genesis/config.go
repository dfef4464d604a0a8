package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"genesis/internal/config"
	"genesis/internal/observability"
)

// newConfigCommand creates the config subcommand
func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize the engine configuration",
	}
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

// newConfigShowCommand prints the effective configuration after merging
// defaults, file, environment and flags, annotating non-default values with
// their source.
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration and where each value came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, meta, err := config.Load(config.WithConfigPath(viper.GetString("config")))
			if err != nil {
				return err
			}

			source := func(field string) string {
				if src := meta.Source(field); src != config.SourceDefault {
					return " " + gray("("+string(src)+")")
				}
				return ""
			}

			fmt.Printf("%s %s%s\n", bold("environment"), cyan(cfg.Environment), source("environment"))

			fmt.Printf("\n%s\n", bold("protocol"))
			fmt.Printf("  request timeout:   %s%s\n", cfg.Protocol.DefaultTimeout(), source("protocol.default_timeout_seconds"))
			fmt.Printf("  max concurrent:    %d%s\n", cfg.Protocol.MaxConcurrent, source("protocol.max_concurrent"))
			fmt.Printf("  rate limit:        %.0f rps, burst %d%s\n", cfg.Protocol.RateLimitRPS, cfg.Protocol.RateLimitBurst, source("protocol.rate_limit_rps"))
			fmt.Printf("  retry attempts:    %d%s\n", cfg.Protocol.RetryMaxAttempts, source("protocol.retry_max_attempts"))
			fmt.Printf("  circuit breaker:   opens after %d failures, recovers in %s%s\n",
				cfg.Protocol.CircuitFailureThreshold, cfg.Protocol.CircuitRecovery(), source("protocol.circuit_failure_threshold"))

			fmt.Printf("\n%s\n", bold("workflow"))
			fmt.Printf("  output dir:        %s%s\n", cfg.Workflow.OutputDir, source("workflow.output_dir"))
			fmt.Printf("  default template:  %s%s\n", cfg.Workflow.DefaultTemplate, source("workflow.default_template"))
			fmt.Printf("  templates:         %s\n", strings.Join(cfg.Workflow.SupportedTemplates, ", "))
			fmt.Printf("  backends:          %s\n", strings.Join(cfg.Workflow.SupportedBackends, ", "))
			fmt.Printf("  frontends:         %s\n", strings.Join(cfg.Workflow.SupportedFrontends, ", "))
			fmt.Printf("  databases:         %s\n", strings.Join(cfg.Workflow.SupportedDatabases, ", "))
			fmt.Printf("  write files:       %t%s\n", cfg.Workflow.WriteProjectFiles, source("workflow.write_project_files"))

			fmt.Printf("\n%s\n", bold("deploy"))
			fmt.Printf("  targets:           %s\n", strings.Join(cfg.Deploy.SupportedTargets, ", "))
			fmt.Printf("  default region:    %s%s\n", cfg.Deploy.DefaultRegion, source("deploy.default_region"))
			fmt.Printf("  command timeout:   %s%s\n", cfg.Deploy.CommandTimeout(), source("deploy.command_timeout_seconds"))
			fmt.Printf("  preflight checks:  %t%s\n", cfg.Deploy.PreflightChecks, source("deploy.preflight_checks"))

			fmt.Printf("\n%s\n", bold("server"))
			fmt.Printf("  listen:            %s:%d%s\n", cfg.Server.Host, cfg.Server.Port, source("server.port"))
			fmt.Printf("  cors origins:      %s\n", strings.Join(cfg.Server.CORSOrigins, ", "))
			fmt.Printf("  rate limit:        %.0f rps, burst %d%s\n", cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, source("server.rate_limit_rps"))
			fmt.Printf("  shutdown timeout:  %s%s\n", cfg.Server.ShutdownTimeout(), source("server.shutdown_seconds"))
			return nil
		},
	}
}

// newConfigInitCommand writes a starter config file. Engine settings all have
// built-in defaults, so the scaffold only carries the observability section;
// an engine block can be added under the `engine:` key of the same file.
func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with the default observability settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("resolve home directory: %w", err)
				}
				path = filepath.Join(home, ".genesis", "config.yaml")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, pass --force to overwrite", path)
			}

			if err := observability.SaveConfig(observability.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("%s wrote %s\n", green("✓"), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
