package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	genesiserrors "genesis/internal/errors"
)

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	overrides  Overrides
	configPath string
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithOverrides applies caller overrides that take highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) {
		o.overrides = overrides
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithHomeDir overrides how the loader resolves the user's home directory.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		o.homeDir = resolver
	}
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Load constructs the engine configuration by merging defaults, file, env
// and overrides, in that precedence order.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := Default()

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}

	if err := applyEnv(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}

	applyOverrides(&cfg, &meta, options.overrides)

	normalize(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, Metadata{}, err
	}

	return cfg, meta, nil
}

// fileConfig mirrors Config with pointer fields so absent values never
// clobber defaults.
type fileConfig struct {
	Environment *string `yaml:"environment"`
	Protocol    struct {
		DefaultTimeoutSeconds   *int     `yaml:"default_timeout_seconds"`
		MaxConcurrent           *int64   `yaml:"max_concurrent"`
		RateLimitRPS            *float64 `yaml:"rate_limit_rps"`
		RateLimitBurst          *int     `yaml:"rate_limit_burst"`
		HistorySize             *int     `yaml:"history_size"`
		RetryMaxAttempts        *int     `yaml:"retry_max_attempts"`
		CircuitFailureThreshold *int     `yaml:"circuit_failure_threshold"`
		CircuitRecoverySeconds  *int     `yaml:"circuit_recovery_seconds"`
	} `yaml:"protocol"`
	Workflow struct {
		OutputDir          *string  `yaml:"output_dir"`
		DefaultTemplate    *string  `yaml:"default_template"`
		SupportedTemplates []string `yaml:"supported_templates"`
		SupportedBackends  []string `yaml:"supported_backends"`
		SupportedFrontends []string `yaml:"supported_frontends"`
		SupportedDatabases []string `yaml:"supported_databases"`
		WriteProjectFiles  *bool    `yaml:"write_project_files"`
	} `yaml:"workflow"`
	Deploy struct {
		CommandTimeoutSeconds *int     `yaml:"command_timeout_seconds"`
		DefaultRegion         *string  `yaml:"default_region"`
		SupportedTargets      []string `yaml:"supported_targets"`
		PreflightChecks       *bool    `yaml:"preflight_checks"`
		HistorySize           *int     `yaml:"history_size"`
	} `yaml:"deploy"`
	Server struct {
		Host            *string  `yaml:"host"`
		Port            *int     `yaml:"port"`
		CORSOrigins     []string `yaml:"cors_origins"`
		RateLimitRPS    *float64 `yaml:"rate_limit_rps"`
		RateLimitBurst  *int     `yaml:"rate_limit_burst"`
		ShutdownSeconds *int     `yaml:"shutdown_seconds"`
		Debug           *bool    `yaml:"debug"`
	} `yaml:"server"`
}

func applyFile(cfg *Config, meta *Metadata, options loadOptions) error {
	path := options.configPath
	if path == "" {
		home, err := options.homeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".genesis", "config.yaml")
	}

	data, err := options.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// An explicitly requested file must be readable.
		if options.configPath != "" {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	var parsed struct {
		Engine fileConfig `yaml:"engine"`
	}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	file := parsed.Engine

	set := func(field string) { meta.sources[field] = SourceFile }

	if file.Environment != nil {
		cfg.Environment = *file.Environment
		set("environment")
	}
	if file.Protocol.DefaultTimeoutSeconds != nil {
		cfg.Protocol.DefaultTimeoutSeconds = *file.Protocol.DefaultTimeoutSeconds
		set("protocol.default_timeout_seconds")
	}
	if file.Protocol.MaxConcurrent != nil {
		cfg.Protocol.MaxConcurrent = *file.Protocol.MaxConcurrent
		set("protocol.max_concurrent")
	}
	if file.Protocol.RateLimitRPS != nil {
		cfg.Protocol.RateLimitRPS = *file.Protocol.RateLimitRPS
		set("protocol.rate_limit_rps")
	}
	if file.Protocol.RateLimitBurst != nil {
		cfg.Protocol.RateLimitBurst = *file.Protocol.RateLimitBurst
		set("protocol.rate_limit_burst")
	}
	if file.Protocol.HistorySize != nil {
		cfg.Protocol.HistorySize = *file.Protocol.HistorySize
		set("protocol.history_size")
	}
	if file.Protocol.RetryMaxAttempts != nil {
		cfg.Protocol.RetryMaxAttempts = *file.Protocol.RetryMaxAttempts
		set("protocol.retry_max_attempts")
	}
	if file.Protocol.CircuitFailureThreshold != nil {
		cfg.Protocol.CircuitFailureThreshold = *file.Protocol.CircuitFailureThreshold
		set("protocol.circuit_failure_threshold")
	}
	if file.Protocol.CircuitRecoverySeconds != nil {
		cfg.Protocol.CircuitRecoverySeconds = *file.Protocol.CircuitRecoverySeconds
		set("protocol.circuit_recovery_seconds")
	}
	if file.Workflow.OutputDir != nil {
		cfg.Workflow.OutputDir = *file.Workflow.OutputDir
		set("workflow.output_dir")
	}
	if file.Workflow.DefaultTemplate != nil {
		cfg.Workflow.DefaultTemplate = *file.Workflow.DefaultTemplate
		set("workflow.default_template")
	}
	if len(file.Workflow.SupportedTemplates) > 0 {
		cfg.Workflow.SupportedTemplates = file.Workflow.SupportedTemplates
		set("workflow.supported_templates")
	}
	if len(file.Workflow.SupportedBackends) > 0 {
		cfg.Workflow.SupportedBackends = file.Workflow.SupportedBackends
		set("workflow.supported_backends")
	}
	if len(file.Workflow.SupportedFrontends) > 0 {
		cfg.Workflow.SupportedFrontends = file.Workflow.SupportedFrontends
		set("workflow.supported_frontends")
	}
	if len(file.Workflow.SupportedDatabases) > 0 {
		cfg.Workflow.SupportedDatabases = file.Workflow.SupportedDatabases
		set("workflow.supported_databases")
	}
	if file.Workflow.WriteProjectFiles != nil {
		cfg.Workflow.WriteProjectFiles = *file.Workflow.WriteProjectFiles
		set("workflow.write_project_files")
	}
	if file.Deploy.CommandTimeoutSeconds != nil {
		cfg.Deploy.CommandTimeoutSeconds = *file.Deploy.CommandTimeoutSeconds
		set("deploy.command_timeout_seconds")
	}
	if file.Deploy.DefaultRegion != nil {
		cfg.Deploy.DefaultRegion = *file.Deploy.DefaultRegion
		set("deploy.default_region")
	}
	if len(file.Deploy.SupportedTargets) > 0 {
		cfg.Deploy.SupportedTargets = file.Deploy.SupportedTargets
		set("deploy.supported_targets")
	}
	if file.Deploy.PreflightChecks != nil {
		cfg.Deploy.PreflightChecks = *file.Deploy.PreflightChecks
		set("deploy.preflight_checks")
	}
	if file.Deploy.HistorySize != nil {
		cfg.Deploy.HistorySize = *file.Deploy.HistorySize
		set("deploy.history_size")
	}
	if file.Server.Host != nil {
		cfg.Server.Host = *file.Server.Host
		set("server.host")
	}
	if file.Server.Port != nil {
		cfg.Server.Port = *file.Server.Port
		set("server.port")
	}
	if len(file.Server.CORSOrigins) > 0 {
		cfg.Server.CORSOrigins = file.Server.CORSOrigins
		set("server.cors_origins")
	}
	if file.Server.RateLimitRPS != nil {
		cfg.Server.RateLimitRPS = *file.Server.RateLimitRPS
		set("server.rate_limit_rps")
	}
	if file.Server.RateLimitBurst != nil {
		cfg.Server.RateLimitBurst = *file.Server.RateLimitBurst
		set("server.rate_limit_burst")
	}
	if file.Server.ShutdownSeconds != nil {
		cfg.Server.ShutdownSeconds = *file.Server.ShutdownSeconds
		set("server.shutdown_seconds")
	}
	if file.Server.Debug != nil {
		cfg.Server.Debug = *file.Server.Debug
		set("server.debug")
	}

	return nil
}

func applyEnv(cfg *Config, meta *Metadata, options loadOptions) error {
	lookup := options.envLookup
	if lookup == nil {
		lookup = DefaultEnvLookup
	}

	set := func(field string) { meta.sources[field] = SourceEnv }

	if value, ok := lookup("GENESIS_ENVIRONMENT"); ok && value != "" {
		cfg.Environment = value
		set("environment")
	}
	if value, ok := lookup("GENESIS_DEFAULT_TIMEOUT_SECONDS"); ok && value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GENESIS_DEFAULT_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Protocol.DefaultTimeoutSeconds = parsed
		set("protocol.default_timeout_seconds")
	}
	if value, ok := lookup("GENESIS_MAX_CONCURRENT"); ok && value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid GENESIS_MAX_CONCURRENT: %w", err)
		}
		cfg.Protocol.MaxConcurrent = parsed
		set("protocol.max_concurrent")
	}
	if value, ok := lookup("GENESIS_RATE_LIMIT_RPS"); ok && value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid GENESIS_RATE_LIMIT_RPS: %w", err)
		}
		cfg.Protocol.RateLimitRPS = parsed
		set("protocol.rate_limit_rps")
	}
	if value, ok := lookup("GENESIS_OUTPUT_DIR"); ok && value != "" {
		cfg.Workflow.OutputDir = value
		set("workflow.output_dir")
	}
	if value, ok := lookup("GENESIS_WRITE_PROJECT_FILES"); ok && value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid GENESIS_WRITE_PROJECT_FILES: %w", err)
		}
		cfg.Workflow.WriteProjectFiles = parsed
		set("workflow.write_project_files")
	}
	if value, ok := lookup("GENESIS_DEPLOY_COMMAND_TIMEOUT"); ok && value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GENESIS_DEPLOY_COMMAND_TIMEOUT: %w", err)
		}
		cfg.Deploy.CommandTimeoutSeconds = parsed
		set("deploy.command_timeout_seconds")
	}
	if value, ok := lookup("GENESIS_DEPLOY_REGION"); ok && value != "" {
		cfg.Deploy.DefaultRegion = value
		set("deploy.default_region")
	}
	if value, ok := lookup("GENESIS_DEPLOY_PREFLIGHT"); ok && value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid GENESIS_DEPLOY_PREFLIGHT: %w", err)
		}
		cfg.Deploy.PreflightChecks = parsed
		set("deploy.preflight_checks")
	}
	if value, ok := lookup("GENESIS_SERVER_HOST"); ok && value != "" {
		cfg.Server.Host = value
		set("server.host")
	}
	if value, ok := lookup("GENESIS_SERVER_PORT"); ok && value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GENESIS_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = parsed
		set("server.port")
	}
	if value, ok := lookup("GENESIS_SERVER_DEBUG"); ok && value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid GENESIS_SERVER_DEBUG: %w", err)
		}
		cfg.Server.Debug = parsed
		set("server.debug")
	}

	return nil
}

func applyOverrides(cfg *Config, meta *Metadata, overrides Overrides) {
	set := func(field string) { meta.sources[field] = SourceOverride }

	if overrides.Environment != nil {
		cfg.Environment = *overrides.Environment
		set("environment")
	}
	if overrides.DefaultTimeoutSeconds != nil {
		cfg.Protocol.DefaultTimeoutSeconds = *overrides.DefaultTimeoutSeconds
		set("protocol.default_timeout_seconds")
	}
	if overrides.MaxConcurrent != nil {
		cfg.Protocol.MaxConcurrent = *overrides.MaxConcurrent
		set("protocol.max_concurrent")
	}
	if overrides.RateLimitRPS != nil {
		cfg.Protocol.RateLimitRPS = *overrides.RateLimitRPS
		set("protocol.rate_limit_rps")
	}
	if overrides.OutputDir != nil {
		cfg.Workflow.OutputDir = *overrides.OutputDir
		set("workflow.output_dir")
	}
	if overrides.WriteProjectFiles != nil {
		cfg.Workflow.WriteProjectFiles = *overrides.WriteProjectFiles
		set("workflow.write_project_files")
	}
	if overrides.CommandTimeoutSeconds != nil {
		cfg.Deploy.CommandTimeoutSeconds = *overrides.CommandTimeoutSeconds
		set("deploy.command_timeout_seconds")
	}
	if overrides.DefaultRegion != nil {
		cfg.Deploy.DefaultRegion = *overrides.DefaultRegion
		set("deploy.default_region")
	}
	if overrides.PreflightChecks != nil {
		cfg.Deploy.PreflightChecks = *overrides.PreflightChecks
		set("deploy.preflight_checks")
	}
	if overrides.ServerHost != nil {
		cfg.Server.Host = *overrides.ServerHost
		set("server.host")
	}
	if overrides.ServerPort != nil {
		cfg.Server.Port = *overrides.ServerPort
		set("server.port")
	}
	if overrides.ServerDebug != nil {
		cfg.Server.Debug = *overrides.ServerDebug
		set("server.debug")
	}
}

func normalize(cfg *Config) {
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Workflow.OutputDir = strings.TrimSpace(cfg.Workflow.OutputDir)
	cfg.Workflow.DefaultTemplate = strings.TrimSpace(cfg.Workflow.DefaultTemplate)
	cfg.Deploy.DefaultRegion = strings.TrimSpace(cfg.Deploy.DefaultRegion)
	cfg.Server.Host = strings.TrimSpace(cfg.Server.Host)

	cfg.Workflow.SupportedTemplates = normalizeList(cfg.Workflow.SupportedTemplates)
	cfg.Workflow.SupportedBackends = normalizeList(cfg.Workflow.SupportedBackends)
	cfg.Workflow.SupportedFrontends = normalizeList(cfg.Workflow.SupportedFrontends)
	cfg.Workflow.SupportedDatabases = normalizeList(cfg.Workflow.SupportedDatabases)
	cfg.Deploy.SupportedTargets = normalizeList(cfg.Deploy.SupportedTargets)

	defaults := Default()
	if cfg.Protocol.DefaultTimeoutSeconds <= 0 {
		cfg.Protocol.DefaultTimeoutSeconds = defaults.Protocol.DefaultTimeoutSeconds
	}
	if cfg.Protocol.MaxConcurrent <= 0 {
		cfg.Protocol.MaxConcurrent = defaults.Protocol.MaxConcurrent
	}
	if cfg.Protocol.RateLimitRPS <= 0 {
		cfg.Protocol.RateLimitRPS = defaults.Protocol.RateLimitRPS
	}
	if cfg.Protocol.RateLimitBurst <= 0 {
		cfg.Protocol.RateLimitBurst = int(cfg.Protocol.RateLimitRPS)
	}
	if cfg.Protocol.HistorySize <= 0 {
		cfg.Protocol.HistorySize = defaults.Protocol.HistorySize
	}
	if cfg.Protocol.RetryMaxAttempts <= 0 {
		cfg.Protocol.RetryMaxAttempts = defaults.Protocol.RetryMaxAttempts
	}
	if cfg.Protocol.CircuitFailureThreshold <= 0 {
		cfg.Protocol.CircuitFailureThreshold = defaults.Protocol.CircuitFailureThreshold
	}
	if cfg.Protocol.CircuitRecoverySeconds <= 0 {
		cfg.Protocol.CircuitRecoverySeconds = defaults.Protocol.CircuitRecoverySeconds
	}
	if cfg.Deploy.CommandTimeoutSeconds <= 0 {
		cfg.Deploy.CommandTimeoutSeconds = defaults.Deploy.CommandTimeoutSeconds
	}
	if cfg.Deploy.HistorySize <= 0 {
		cfg.Deploy.HistorySize = defaults.Deploy.HistorySize
	}
	if cfg.Server.ShutdownSeconds <= 0 {
		cfg.Server.ShutdownSeconds = defaults.Server.ShutdownSeconds
	}
	if cfg.Server.RateLimitRPS <= 0 {
		cfg.Server.RateLimitRPS = defaults.Server.RateLimitRPS
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = defaults.Server.RateLimitBurst
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return values
	}
	filtered := values[:0]
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		filtered = append(filtered, trimmed)
	}
	return filtered
}

func validate(cfg Config) error {
	switch cfg.Environment {
	case "development", "staging", "production":
	default:
		return genesiserrors.NewValidationError("environment",
			fmt.Sprintf("must be development, staging or production, got %q", cfg.Environment))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return genesiserrors.NewValidationError("server.port",
			fmt.Sprintf("must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Workflow.OutputDir == "" && cfg.Workflow.WriteProjectFiles {
		return genesiserrors.NewValidationError("workflow.output_dir",
			"must not be empty when write_project_files is enabled")
	}
	if len(cfg.Deploy.SupportedTargets) == 0 {
		return genesiserrors.NewValidationError("deploy.supported_targets",
			"must list at least one target")
	}

	return nil
}
