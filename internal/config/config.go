// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
)

// labelColorPattern matches a bare 6-hex-digit color. GitHub rejects a leading
// '#', so we do too, at load time rather than at the API boundary.
var labelColorPattern = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// Config holds the entire application configuration. An instance is built
// once at startup and passed explicitly into every component constructor;
// there is no ambient lookup after load.
type Config struct {
	Logger     LoggerConfig           `mapstructure:"logger" yaml:"logger"`
	GitHub     GitHubConfig           `mapstructure:"github" yaml:"github"`
	Reconciler ReconcilerConfig       `mapstructure:"reconciler" yaml:"reconciler"`
	Issues     IssueConfig            `mapstructure:"issues" yaml:"issues"`
	Scopes     map[string]ScopeConfig `mapstructure:"scopes" yaml:"scopes"`

	// DefaultScope is used when --scope is not given. The pseudo-scope "all"
	// unions every configured scope.
	DefaultScope string `mapstructure:"default_scope" yaml:"default_scope"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// GitHubConfig defines the tracker connection settings.
type GitHubConfig struct {
	Token string `mapstructure:"token" yaml:"-"`
	Org   string `mapstructure:"org" yaml:"org"`

	// BaseURL points at a GitHub Enterprise instance when set; empty means
	// github.com.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// RateLimit is the shared request budget in requests per second across
	// all reconciliation workers.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// RetryConfig is the explicit backoff policy injected into the gateway
// client.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// ReconcilerConfig tunes the reconciliation run itself.
type ReconcilerConfig struct {
	// Concurrency bounds the worker pool; repositories are independent units
	// of work.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// SeverityWeights must preserve CRITICAL > HIGH > MEDIUM > LOW.
	SeverityWeights map[string]int `mapstructure:"severity_weights" yaml:"severity_weights"`

	// CVSSFallback fills in scores for alerts the scanner reported without
	// one, keyed by severity. Policy constants, not computed values.
	CVSSFallback map[string]float64 `mapstructure:"cvss_fallback" yaml:"cvss_fallback"`
}

// LabelConfig is one tracker label the automation manages.
type LabelConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Color       string `mapstructure:"color" yaml:"color"`
	Description string `mapstructure:"description" yaml:"description"`
}

// IssueConfig controls how tracking issues are rendered and filed.
type IssueConfig struct {
	// TitleFormat is the canonical title template. Placeholders: {repository},
	// {critical}, {high}, {medium}, {low}; counts accept a zero-pad width,
	// e.g. {critical:02}.
	TitleFormat string `mapstructure:"title_format" yaml:"title_format"`

	Labels []LabelConfig `mapstructure:"labels" yaml:"labels"`

	// ProjectID is the ProjectV2 node ID issues are assigned to. Empty
	// disables project-board synchronization.
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`

	// StatusField is the name of the project's single-select status field.
	StatusField string `mapstructure:"status_field" yaml:"status_field"`
}

// ScopeConfig names an ordered set of repositories to reconcile together.
type ScopeConfig struct {
	Description  string   `mapstructure:"description" yaml:"description"`
	Repositories []string `mapstructure:"repositories" yaml:"repositories"`
}

// SeverityWeight resolves the configured weight for a severity level.
func (c ReconcilerConfig) SeverityWeight(sev schemas.Severity) int {
	return c.SeverityWeights[string(sev)]
}

// CVSSFor resolves the configured fallback CVSS score for a severity level.
func (c ReconcilerConfig) CVSSFor(sev schemas.Severity) float64 {
	return c.CVSSFallback[string(sev)]
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "vulnsync")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- GitHub --
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.rate_limit", 5.0)
	v.SetDefault("github.rate_burst", 5)

	// -- Reconciler --
	v.SetDefault("reconciler.concurrency", 4)
	v.SetDefault("reconciler.retry.max_attempts", 4)
	v.SetDefault("reconciler.retry.initial_interval", "2s")
	v.SetDefault("reconciler.retry.max_interval", "60s")
	v.SetDefault("reconciler.severity_weights", map[string]int{
		"CRITICAL": 50,
		"HIGH":     20,
		"MEDIUM":   5,
		"LOW":      1,
	})
	v.SetDefault("reconciler.cvss_fallback", map[string]float64{
		"CRITICAL": 9.0,
		"HIGH":     7.0,
		"MEDIUM":   5.0,
		"LOW":      3.0,
	})

	// -- Issues --
	v.SetDefault("issues.title_format",
		"{repository} - Fix all dependabot issues Critical - {critical:02}, High - {high:02}, Medium - {medium:02}, Low - {low:02}")
	v.SetDefault("issues.status_field", "Status")
	v.SetDefault("issues.labels", []map[string]any{
		{
			"name":        "security-Vulnerability",
			"color":       "fbca04",
			"description": "Security vulnerability that needs to be addressed",
		},
	})

	v.SetDefault("default_scope", "all")
}

// NewConfigFromViper creates a validated configuration instance from a viper
// object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("github.token", "VULNSYNC_GITHUB_TOKEN", "GITHUB_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Unmarshal occasionally misses multi-name env bindings.
	if cfg.GitHub.Token == "" {
		if tok := os.Getenv("VULNSYNC_GITHUB_TOKEN"); tok != "" {
			cfg.GitHub.Token = tok
		} else {
			cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Any failure here is fatal: the run aborts before a single mutation.
func (c *Config) Validate() error {
	if c.Reconciler.Concurrency <= 0 {
		return fmt.Errorf("reconciler.concurrency must be a positive integer")
	}
	if c.Reconciler.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reconciler.retry.max_attempts must be a positive integer")
	}
	if c.GitHub.RateLimit <= 0 {
		return fmt.Errorf("github.rate_limit must be positive")
	}

	if err := c.validateWeights(); err != nil {
		return err
	}
	if err := c.Issues.Validate(); err != nil {
		return err
	}
	for name, scope := range c.Scopes {
		if err := scope.Validate(); err != nil {
			return fmt.Errorf("scope %q: %w", name, err)
		}
	}
	return nil
}

// validateWeights enforces the severity ordering invariant. A configuration
// that inverts the ordering would silently rank repositories wrong, so it is
// rejected at load time.
func (c *Config) validateWeights() error {
	w := c.Reconciler.SeverityWeights
	for _, sev := range schemas.SeverityOrder {
		if _, ok := w[string(sev)]; !ok {
			return fmt.Errorf("reconciler.severity_weights missing entry for %s", sev)
		}
	}
	if !(w["CRITICAL"] > w["HIGH"] && w["HIGH"] > w["MEDIUM"] && w["MEDIUM"] > w["LOW"]) {
		return fmt.Errorf("reconciler.severity_weights must satisfy CRITICAL > HIGH > MEDIUM > LOW, got %v", w)
	}
	if w["LOW"] < 0 {
		return fmt.Errorf("reconciler.severity_weights must be non-negative")
	}
	for _, sev := range schemas.SeverityOrder {
		if _, ok := c.Reconciler.CVSSFallback[string(sev)]; !ok {
			return fmt.Errorf("reconciler.cvss_fallback missing entry for %s", sev)
		}
	}
	return nil
}

// Validate checks the issue rendering settings.
func (ic IssueConfig) Validate() error {
	if ic.TitleFormat == "" {
		return fmt.Errorf("issues.title_format must not be empty")
	}
	for _, label := range ic.Labels {
		if label.Name == "" {
			return fmt.Errorf("issues.labels entries require a name")
		}
		if !labelColorPattern.MatchString(label.Color) {
			return fmt.Errorf("issues.labels %q: color %q must be 6 hex digits without '#'", label.Name, label.Color)
		}
	}
	return nil
}

// Validate checks a single scope definition. Repositories form an ordered
// set: duplicates are a configuration error, not something to dedupe quietly.
func (sc ScopeConfig) Validate() error {
	seen := make(map[string]struct{}, len(sc.Repositories))
	for _, repo := range sc.Repositories {
		if repo == "" {
			return fmt.Errorf("repository names must not be empty")
		}
		if _, dup := seen[repo]; dup {
			return fmt.Errorf("repository %q listed twice", repo)
		}
		seen[repo] = struct{}{}
	}
	return nil
}

// RepositoriesForScope resolves a scope name to its ordered repository list.
// The pseudo-scope "all" unions every configured scope in lexical scope-name
// order, keeping each repository's first occurrence.
func (c *Config) RepositoriesForScope(name string) ([]string, error) {
	if name == "" {
		name = c.DefaultScope
	}
	if name == "all" {
		names := make([]string, 0, len(c.Scopes))
		for scopeName := range c.Scopes {
			names = append(names, scopeName)
		}
		sort.Strings(names)

		var out []string
		seen := make(map[string]struct{})
		for _, scopeName := range names {
			for _, repo := range c.Scopes[scopeName].Repositories {
				if _, dup := seen[repo]; dup {
					continue
				}
				seen[repo] = struct{}{}
				out = append(out, repo)
			}
		}
		return out, nil
	}
	scope, ok := c.Scopes[name]
	if !ok {
		return nil, fmt.Errorf("unknown scope %q", name)
	}
	return scope.Repositories, nil
}

// NewDefaultConfig creates a configuration struct populated with defaults.
// Used by tests and as the base before file/env overrides.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}
