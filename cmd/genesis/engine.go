package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"genesis/internal/agents"
	"genesis/internal/config"
	"genesis/internal/deploy"
	genesiserrors "genesis/internal/errors"
	"genesis/internal/observability"
	"genesis/internal/orchestrator"
	"genesis/internal/protocol"
	"genesis/internal/server"
)

// engine bundles the wired subsystems behind a single lifecycle so every
// subcommand assembles the stack the same way.
type engine struct {
	cfg        config.Config
	logger     *observability.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
	registry   *protocol.Registry
	dispatcher *protocol.Dispatcher
	executor   *deploy.Executor
	orch       *orchestrator.Orchestrator
}

// buildEngine wires config, observability, the agent registry, the
// dispatcher, the deployment executor and the orchestrator. One-shot
// commands pass telemetry=false so no exporters are stood up for a single
// run; serve honors the observability config.
func buildEngine(telemetry bool, overrides config.Overrides, orchOpts ...orchestrator.Option) (*engine, error) {
	configPath := viper.GetString("config")

	if viper.GetBool("debug") {
		debug := true
		overrides.ServerDebug = &debug
	}

	cfg, _, err := config.Load(
		config.WithConfigPath(configPath),
		config.WithOverrides(overrides),
	)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	obsCfg, err := observability.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load observability config: %w", err)
	}
	if !telemetry {
		obsCfg.Metrics.Enabled = false
		obsCfg.Tracing.Enabled = false
	}
	if cfg.Server.Debug {
		obsCfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  obsCfg.Logging.Level,
		Format: obsCfg.Logging.Format,
	})

	metrics, err := observability.NewMetricsCollector(obsCfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics collector: %w", err)
	}
	tracer, err := observability.NewTracerProvider(obsCfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracer provider: %w", err)
	}

	registry := protocol.NewRegistry()
	dispatcher := protocol.NewDispatcher(registry,
		protocol.WithMaxConcurrent(cfg.Protocol.MaxConcurrent),
		protocol.WithDefaultTimeout(cfg.Protocol.DefaultTimeout()),
		protocol.WithRateLimit(cfg.Protocol.RateLimitRPS, cfg.Protocol.RateLimitBurst),
		protocol.WithHistorySize(cfg.Protocol.HistorySize),
		protocol.WithBreakerConfig(breakerConfig(cfg.Protocol)),
		protocol.WithRetryConfig(retryConfig(cfg.Protocol)),
		protocol.WithMetricsCollector(metrics),
		protocol.WithTracerProvider(tracer),
	)

	executor := deploy.NewExecutor(
		deploy.WithCommandTimeout(cfg.Deploy.CommandTimeout()),
		deploy.WithPreflight(cfg.Deploy.PreflightChecks),
		deploy.WithDefaultRegion(cfg.Deploy.DefaultRegion),
		deploy.WithHistorySize(cfg.Deploy.HistorySize),
		deploy.WithMetricsCollector(metrics),
		deploy.WithTracerProvider(tracer),
		deploy.WithStateHook(func(target, environment string, state deploy.State) {
			dispatcher.Broadcast(context.Background(), "deploy_executor", server.EventDeploymentState, map[string]any{
				"target":      target,
				"environment": environment,
				"state":       string(state),
			})
		}),
	)

	if err := agents.RegisterBuiltins(registry, executor); err != nil {
		return nil, fmt.Errorf("register agents: %w", err)
	}
	dispatcher.Start()

	orchOpts = append(orchOpts,
		orchestrator.WithVersion(Version),
		orchestrator.WithMetricsCollector(metrics),
		orchestrator.WithTracerProvider(tracer),
	)
	orch := orchestrator.New(dispatcher, cfg, orchOpts...)

	return &engine{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		registry:   registry,
		dispatcher: dispatcher,
		executor:   executor,
		orch:       orch,
	}, nil
}

// Close stops the dispatcher and flushes telemetry.
func (e *engine) Close() {
	e.dispatcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.tracer.Shutdown(ctx); err != nil {
		e.logger.Warn("tracer shutdown failed", "error", err)
	}
	if err := e.metrics.Shutdown(ctx); err != nil {
		e.logger.Warn("metrics shutdown failed", "error", err)
	}
}

func breakerConfig(cfg config.ProtocolConfig) genesiserrors.CircuitBreakerConfig {
	bc := genesiserrors.DefaultCircuitBreakerConfig()
	if cfg.CircuitFailureThreshold > 0 {
		bc.FailureThreshold = cfg.CircuitFailureThreshold
	}
	if cfg.CircuitRecoverySeconds > 0 {
		bc.RecoveryTimeout = cfg.CircuitRecovery()
	}
	return bc
}

func retryConfig(cfg config.ProtocolConfig) genesiserrors.RetryConfig {
	rc := genesiserrors.DefaultRetryConfig()
	if cfg.RetryMaxAttempts > 0 {
		rc.MaxAttempts = cfg.RetryMaxAttempts
	}
	return rc
}
