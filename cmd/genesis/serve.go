package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"genesis/internal/config"
	"genesis/internal/server"
)

// newServeCommand creates the serve subcommand
func newServeCommand() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket event stream and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := config.Overrides{}
			if cmd.Flags().Changed("host") {
				overrides.ServerHost = &host
			}
			if cmd.Flags().Changed("port") {
				overrides.ServerPort = &port
			}

			eng, err := buildEngine(true, overrides)
			if err != nil {
				return err
			}
			defer eng.Close()

			srv, err := server.New(eng.cfg, eng.dispatcher, eng.orch, eng.executor,
				server.WithVersion(Version),
				server.WithMetricsCollector(eng.metrics),
				server.WithTracerProvider(eng.tracer),
			)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				eng.logger.Info("server listening",
					"addr", srv.Addr(),
					"environment", eng.cfg.Environment,
					"agents", eng.registry.Len())
				errCh <- srv.Start()
			}()

			// Wait for interrupt signal for graceful shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

			select {
			case sig := <-quit:
				eng.logger.Info("shutting down", "signal", sig.String())
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			}

			if err := srv.Stop(); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			eng.logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (overrides config)")

	return cmd
}
