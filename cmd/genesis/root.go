package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// Version information set at build time via -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Color definitions for CLI output
var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "genesis",
		Short: "Multi-agent project generation and deployment engine",
		Long: fmt.Sprintf(`%s

genesis coordinates a team of specialist agents (architect, backend,
frontend, devops, deploy) over a request/result protocol to generate
full-stack project scaffolds and push them to heroku, vercel or aws.

%s
  genesis serve                          # Run the HTTP API and event stream
  genesis generate shop --template ecommerce
  genesis deploy ./out/shop --target heroku --app shop
  genesis agents                         # List the built-in agents

Configuration is read from --config (YAML), GENESIS_* environment
variables, then built-in defaults, in that precedence order.`,
			bold("genesis "+Version),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !isTTY() {
				color.NoColor = true
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug logging")

	// Configure viper
	viper.SetEnvPrefix("GENESIS")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newAgentsCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// newVersionCommand creates the version subcommand
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("genesis %s\n", Version)
			fmt.Printf("  commit:  %s\n", GitCommit)
			fmt.Printf("  built:   %s\n", BuildTime)
			fmt.Printf("  runtime: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
