package config

import (
	"time"
)

// ValueSource identifies where a configuration value came from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Config is the engine configuration consumed by the protocol layer, the
// orchestrator, the deployment executor and the HTTP server.
type Config struct {
	Environment string         `yaml:"environment"` // development, staging, production
	Protocol    ProtocolConfig `yaml:"protocol"`
	Workflow    WorkflowConfig `yaml:"workflow"`
	Deploy      DeployConfig   `yaml:"deploy"`
	Server      ServerConfig   `yaml:"server"`
}

// ProtocolConfig tunes the dispatch layer.
type ProtocolConfig struct {
	DefaultTimeoutSeconds   int     `yaml:"default_timeout_seconds"`
	MaxConcurrent           int64   `yaml:"max_concurrent"`
	RateLimitRPS            float64 `yaml:"rate_limit_rps"`
	RateLimitBurst          int     `yaml:"rate_limit_burst"`
	HistorySize             int     `yaml:"history_size"`
	RetryMaxAttempts        int     `yaml:"retry_max_attempts"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold"`
	CircuitRecoverySeconds  int     `yaml:"circuit_recovery_seconds"`
}

// DefaultTimeout returns the request timeout as a duration.
func (c ProtocolConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// CircuitRecovery returns the breaker recovery window as a duration.
func (c ProtocolConfig) CircuitRecovery() time.Duration {
	return time.Duration(c.CircuitRecoverySeconds) * time.Second
}

// WorkflowConfig tunes project generation.
type WorkflowConfig struct {
	OutputDir          string   `yaml:"output_dir"`
	DefaultTemplate    string   `yaml:"default_template"`
	SupportedTemplates []string `yaml:"supported_templates"`
	SupportedBackends  []string `yaml:"supported_backends"`
	SupportedFrontends []string `yaml:"supported_frontends"`
	SupportedDatabases []string `yaml:"supported_databases"`
	WriteProjectFiles  bool     `yaml:"write_project_files"`
}

// DeployConfig tunes the deployment executor.
type DeployConfig struct {
	CommandTimeoutSeconds int      `yaml:"command_timeout_seconds"`
	DefaultRegion         string   `yaml:"default_region"`
	SupportedTargets      []string `yaml:"supported_targets"`
	PreflightChecks       bool     `yaml:"preflight_checks"`
	HistorySize           int      `yaml:"history_size"`
}

// CommandTimeout returns the per-command timeout as a duration.
func (c DeployConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	CORSOrigins     []string `yaml:"cors_origins"`
	RateLimitRPS    float64  `yaml:"rate_limit_rps"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	ShutdownSeconds int      `yaml:"shutdown_seconds"`
	Debug           bool     `yaml:"debug"`
}

// ShutdownTimeout returns the graceful shutdown budget as a duration.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// Overrides conveys caller-specified values that win over env/file sources.
type Overrides struct {
	Environment           *string  `json:"environment,omitempty" yaml:"environment,omitempty"`
	DefaultTimeoutSeconds *int     `json:"default_timeout_seconds,omitempty" yaml:"default_timeout_seconds,omitempty"`
	MaxConcurrent         *int64   `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	RateLimitRPS          *float64 `json:"rate_limit_rps,omitempty" yaml:"rate_limit_rps,omitempty"`
	OutputDir             *string  `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	WriteProjectFiles     *bool    `json:"write_project_files,omitempty" yaml:"write_project_files,omitempty"`
	CommandTimeoutSeconds *int     `json:"command_timeout_seconds,omitempty" yaml:"command_timeout_seconds,omitempty"`
	DefaultRegion         *string  `json:"default_region,omitempty" yaml:"default_region,omitempty"`
	PreflightChecks       *bool    `json:"preflight_checks,omitempty" yaml:"preflight_checks,omitempty"`
	ServerHost            *string  `json:"server_host,omitempty" yaml:"server_host,omitempty"`
	ServerPort            *int     `json:"server_port,omitempty" yaml:"server_port,omitempty"`
	ServerDebug           *bool    `json:"server_debug,omitempty" yaml:"server_debug,omitempty"`
}

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Sources returns a copy of the provenance map for JSON serialization.
func (m Metadata) Sources() map[string]ValueSource {
	if m.sources == nil {
		return map[string]ValueSource{}
	}
	copied := make(map[string]ValueSource, len(m.sources))
	for key, value := range m.sources {
		copied[key] = value
	}
	return copied
}

// Source returns the origin for the given configuration field.
func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: "development",
		Protocol: ProtocolConfig{
			DefaultTimeoutSeconds:   30,
			MaxConcurrent:           64,
			RateLimitRPS:            100,
			RateLimitBurst:          100,
			HistorySize:             1000,
			RetryMaxAttempts:        3,
			CircuitFailureThreshold: 5,
			CircuitRecoverySeconds:  60,
		},
		Workflow: WorkflowConfig{
			OutputDir:          "./generated",
			DefaultTemplate:    "saas-basic",
			SupportedTemplates: []string{"saas-basic", "ecommerce", "web-app"},
			SupportedBackends:  []string{"fastapi", "nestjs", "express", "django", "flask"},
			SupportedFrontends: []string{"nextjs", "react", "vue", "nuxt", "svelte"},
			SupportedDatabases: []string{"postgresql", "mysql", "mongodb", "sqlite"},
			WriteProjectFiles:  true,
		},
		Deploy: DeployConfig{
			CommandTimeoutSeconds: 300,
			DefaultRegion:         "us-east-1",
			SupportedTargets:      []string{"heroku", "vercel", "aws"},
			PreflightChecks:       true,
			HistorySize:           100,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			CORSOrigins:     []string{"*"},
			RateLimitRPS:    50,
			RateLimitBurst:  100,
			ShutdownSeconds: 10,
		},
	}
}
