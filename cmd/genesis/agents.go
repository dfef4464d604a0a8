package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genesis/internal/config"
)

// newAgentsCommand creates the agents subcommand
func newAgentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the built-in agents and their actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(false, config.Overrides{})
			if err != nil {
				return err
			}
			defer eng.Close()

			for _, agent := range eng.registry.List() {
				fmt.Printf("%s %s\n", bold(agent.ID), gray("("+agent.Type+")"))
				fmt.Printf("  %s %s\n", gray("name:"), agent.Name)
				if caps := agent.Capabilities(); len(caps) > 0 {
					fmt.Printf("  %s %s\n", gray("capabilities:"), strings.Join(caps, ", "))
				}
				fmt.Printf("  %s %s\n", gray("actions:"), cyan(strings.Join(agent.Handlers(), ", ")))
			}
			fmt.Printf("\n%d agents registered\n", eng.registry.Len())
			return nil
		},
	}
}
