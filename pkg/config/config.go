// Package config loads application configuration from config.yaml with
// environment variable overrides. Secrets (signing keys, API keys) are
// env-only: yaml:"-" keeps them out of checked-in config files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/sulaiman013/powerbi-expert-app/pkg/audit"
	"github.com/sulaiman013/powerbi-expert-app/pkg/boundary"
	"github.com/sulaiman013/powerbi-expert-app/pkg/llm"
)

// Config holds all configuration for the application. Environment
// variables always override YAML values for fields that support both.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// DeploymentMode is "airgap" or "connected". Air-gap refuses every
	// cloud provider before construction.
	DeploymentMode string `yaml:"deployment_mode" env:"DEPLOYMENT_MODE" env-default:"airgap"`

	Boundary BoundaryConfig `yaml:"boundary"`
	Audit    AuditConfig    `yaml:"audit"`
	LLM      LLMConfig      `yaml:"llm"`
}

// BoundaryConfig controls what schema metadata may cross to a provider.
type BoundaryConfig struct {
	AllowDescriptions  bool `yaml:"allow_descriptions" env:"BOUNDARY_ALLOW_DESCRIPTIONS" env-default:"true"`
	AllowMeasures      bool `yaml:"allow_measures" env:"BOUNDARY_ALLOW_MEASURES" env-default:"true"`
	AllowRelationships bool `yaml:"allow_relationships" env:"BOUNDARY_ALLOW_RELATIONSHIPS" env-default:"true"`
	StrictMode         bool `yaml:"strict_mode" env:"BOUNDARY_STRICT_MODE" env-default:"true"`

	// PatternFile optionally replaces the built-in leak patterns with a
	// versioned YAML rule file.
	PatternFile string `yaml:"pattern_file" env:"BOUNDARY_PATTERN_FILE" env-default:""`
}

// AuditConfig controls the tamper-evident audit log.
type AuditConfig struct {
	Dir           string `yaml:"dir" env:"AUDIT_DIR" env-default:"audit_logs"`
	SignEntries   bool   `yaml:"sign_entries" env:"AUDIT_SIGN_ENTRIES" env-default:"true"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb" env:"AUDIT_MAX_FILE_SIZE_MB" env-default:"10"`
	MaxFiles      int    `yaml:"max_files" env:"AUDIT_MAX_FILES" env-default:"100"`

	// Required makes generation fail closed when the audit log cannot
	// record the boundary crossing.
	Required bool `yaml:"required" env:"AUDIT_REQUIRED" env-default:"true"`

	// SigningKey seeds the HMAC signatures. A random per-process key is
	// generated when unset, which makes signatures unverifiable across
	// restarts.
	SigningKey string `yaml:"-" env:"AUDIT_SIGNING_KEY"` // Secret - not in YAML
}

// LLMConfig holds the provider settings.
type LLMConfig struct {
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"ollama"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"http://localhost:11434"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"phi4"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`
	TopP        float64 `yaml:"top_p" env:"LLM_TOP_P" env-default:"0.9"`

	TimeoutSeconds    int `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"120"`
	MaxRetries        int `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"3"`
	RetryDelaySeconds int `yaml:"retry_delay_seconds" env:"LLM_RETRY_DELAY_SECONDS" env-default:"1"`

	ValidateEndpoint bool `yaml:"validate_endpoint" env:"LLM_VALIDATE_ENDPOINT" env-default:"true"`
	// AllowedEndpointsStr is a comma-separated host allow-list.
	AllowedEndpointsStr string   `yaml:"allowed_endpoints" env:"LLM_ALLOWED_ENDPOINTS" env-default:"127.0.0.1,localhost,::1"`
	AllowedEndpoints    []string `yaml:"-"`

	BreakerThreshold    int `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetSeconds int `yaml:"breaker_reset_seconds" env:"LLM_BREAKER_RESET_SECONDS" env-default:"30"`
}

// Load reads configuration from the given YAML path with environment
// variable overrides. When the file does not exist, configuration comes
// from environment variables and defaults alone. The version parameter
// is injected at build time.
func Load(path, version string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.parseComplexFields()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after
// loading.
func (c *Config) parseComplexFields() {
	c.LLM.AllowedEndpoints = splitHosts(c.LLM.AllowedEndpointsStr)
}

func (c *Config) validate() error {
	switch llm.DeploymentMode(c.DeploymentMode) {
	case llm.ModeAirgap, llm.ModeConnected:
	default:
		return fmt.Errorf("invalid deployment_mode %q (want airgap or connected)", c.DeploymentMode)
	}

	switch llm.ProviderType(c.LLM.Provider) {
	case llm.ProviderOllama, llm.ProviderAzureOpenAI, llm.ProviderAzureClaude:
	default:
		return fmt.Errorf("invalid llm provider %q", c.LLM.Provider)
	}

	if llm.DeploymentMode(c.DeploymentMode) == llm.ModeAirgap &&
		llm.ProviderType(c.LLM.Provider) != llm.ProviderOllama {
		return fmt.Errorf("deployment_mode airgap permits only the ollama provider, got %q", c.LLM.Provider)
	}
	return nil
}

func splitHosts(value string) []string {
	var hosts []string
	for _, h := range strings.Split(value, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// BoundaryConfig translates to the enforcer's settings.
func (c *BoundaryConfig) ToBoundary() boundary.Config {
	return boundary.Config{
		AllowDescriptions:  c.AllowDescriptions,
		AllowMeasures:      c.AllowMeasures,
		AllowRelationships: c.AllowRelationships,
		StrictMode:         c.StrictMode,
	}
}

// ToAudit translates to the audit logger's settings.
func (c *AuditConfig) ToAudit() audit.Config {
	cfg := audit.DefaultConfig(c.Dir)
	cfg.SignEntries = c.SignEntries
	if c.MaxFileSizeMB > 0 {
		cfg.MaxFileSize = int64(c.MaxFileSizeMB) * 1024 * 1024
	}
	if c.MaxFiles > 0 {
		cfg.MaxFiles = c.MaxFiles
	}
	if c.SigningKey != "" {
		cfg.SigningKey = []byte(c.SigningKey)
	}
	return cfg
}

// ToProvider translates to a provider adapter config.
func (c *LLMConfig) ToProvider() llm.Config {
	cfg := llm.DefaultConfig(llm.ProviderType(c.Provider), c.Endpoint, c.Model)
	cfg.APIKey = c.APIKey
	cfg.Temperature = c.Temperature
	cfg.MaxTokens = c.MaxTokens
	cfg.TopP = c.TopP
	cfg.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	cfg.MaxRetries = c.MaxRetries
	cfg.RetryDelay = time.Duration(c.RetryDelaySeconds) * time.Second
	cfg.ValidateEndpoint = c.ValidateEndpoint
	if len(c.AllowedEndpoints) > 0 {
		cfg.AllowedEndpoints = c.AllowedEndpoints
	}
	return cfg
}

// RouterConfig translates the deployment-wide policy settings.
func (c *Config) RouterConfig() llm.RouterConfig {
	return llm.RouterConfig{
		Mode:             llm.DeploymentMode(c.DeploymentMode),
		RequireAudit:     c.Audit.Required,
		BreakerThreshold: c.LLM.BreakerThreshold,
		BreakerReset:     time.Duration(c.LLM.BreakerResetSeconds) * time.Second,
	}
}
