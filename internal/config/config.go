package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a turn engine instance.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	History    HistoryConfig    `yaml:"history"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig configures the process's network surfaces.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// LLMConfig configures the Chat Completions endpoint a turn is sent to.
type LLMConfig struct {
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ApprovalConfig configures the default approval policy for tool calls.
type ApprovalConfig struct {
	// Policy is one of "untrusted", "on-failure", "on-request", "never".
	Policy string `yaml:"policy"`

	// SessionCacheTTL controls how long an ApprovedForSession decision is
	// remembered before the tool is re-prompted. Zero means it never expires.
	SessionCacheTTL time.Duration `yaml:"session_cache_ttl"`
}

// SandboxConfig configures the sandbox a tool call runs under.
type SandboxConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Mode          string   `yaml:"mode"` // "read-only", "workspace-write", "danger-full-access"
	NetworkAccess bool     `yaml:"network_access"`
	WritableRoots []string `yaml:"writable_roots"`
}

// HistoryConfig configures persisted conversation/approval storage.
type HistoryConfig struct {
	// DSN is a modernc.org/sqlite data source name, e.g. "file:turns.db".
	DSN string `yaml:"dsn"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level     string   `yaml:"level"`
	Format    string   `yaml:"format"`
	AddSource bool     `yaml:"add_source"`
	Redact    []string `yaml:"redact"`
}

// TelemetryConfig configures the metrics surface.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a config file, expanding environment variables,
// applying env-var overrides, filling in defaults, and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}

	if cfg.Approval.Policy == "" {
		cfg.Approval.Policy = "on-request"
	}

	if cfg.Sandbox.Mode == "" {
		cfg.Sandbox.Mode = "workspace-write"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("TURNENGINE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("TURNENGINE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TURNENGINE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		cfg.LLM.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("TURNENGINE_LLM_BASE_URL")); value != "" {
		cfg.LLM.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("TURNENGINE_LLM_MODEL")); value != "" {
		cfg.LLM.Model = value
	}

	if value := strings.TrimSpace(os.Getenv("TURNENGINE_APPROVAL_POLICY")); value != "" {
		cfg.Approval.Policy = value
	}
}

// ConfigValidationError collects every validation failure found in one pass,
// rather than stopping at the first.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.http_port out of range: %d", cfg.Server.HTTPPort))
	}
	if cfg.LLM.MaxRetries < 0 {
		issues = append(issues, "llm.max_retries must be >= 0")
	}
	if !validApprovalPolicy(cfg.Approval.Policy) {
		issues = append(issues, fmt.Sprintf("approval.policy invalid: %q", cfg.Approval.Policy))
	}
	if !validSandboxMode(cfg.Sandbox.Mode) {
		issues = append(issues, fmt.Sprintf("sandbox.mode invalid: %q", cfg.Sandbox.Mode))
	}
	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, fmt.Sprintf("logging.level invalid: %q", cfg.Logging.Level))
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validApprovalPolicy(policy string) bool {
	switch policy {
	case "untrusted", "on-failure", "on-request", "never":
		return true
	default:
		return false
	}
}

func validSandboxMode(mode string) bool {
	switch mode {
	case "read-only", "workspace-write", "danger-full-access":
		return true
	default:
		return false
	}
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
