package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file leaves a field empty.
const (
	DefaultRulesPath    = ".github/sporkfed.yaml"
	DefaultBranchPrefix = "sporkfed/"
	DefaultListenAddr   = ":8080"
)

// Config represents the complete sporkfed configuration
type Config struct {
	GitHub GitHubConfig `yaml:"github"`
	Rules  RulesConfig  `yaml:"rules"`
	Sync   SyncConfig   `yaml:"sync"`
	Serve  ServeConfig  `yaml:"serve"`
}

// GitHubConfig configures API access to the hosting service
type GitHubConfig struct {
	TokenFile string `yaml:"token_file"`
	BaseURL   string `yaml:"base_url"`
}

// RulesConfig configures where synced repositories keep their rule file
type RulesConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig configures how sync branches are named
type SyncConfig struct {
	BranchPrefix string `yaml:"branch_prefix"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	WebhookSecretFile string `yaml:"webhook_secret_file"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.GitHub.TokenFile = os.ExpandEnv(c.GitHub.TokenFile)
	c.GitHub.BaseURL = os.ExpandEnv(c.GitHub.BaseURL)
	c.Rules.Path = os.ExpandEnv(c.Rules.Path)
	c.Sync.BranchPrefix = os.ExpandEnv(c.Sync.BranchPrefix)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.WebhookSecretFile = os.ExpandEnv(c.Serve.WebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Rules.Path == "" {
		c.Rules.Path = DefaultRulesPath
	}
	if c.Sync.BranchPrefix == "" {
		c.Sync.BranchPrefix = DefaultBranchPrefix
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// The rules path is resolved inside each synced repository
	if strings.HasPrefix(c.Rules.Path, "/") {
		return fmt.Errorf("rules.path must be repository-relative: %s", c.Rules.Path)
	}

	// Branch prefixes are short branch names, not fully qualified refs
	if strings.HasPrefix(c.Sync.BranchPrefix, "refs/") {
		return fmt.Errorf("sync.branch_prefix must not start with refs/: %s", c.Sync.BranchPrefix)
	}
	if !strings.HasSuffix(c.Sync.BranchPrefix, "/") {
		return fmt.Errorf("sync.branch_prefix must end with a slash: %s", c.Sync.BranchPrefix)
	}

	if c.GitHub.BaseURL != "" && !strings.HasPrefix(c.GitHub.BaseURL, "http://") && !strings.HasPrefix(c.GitHub.BaseURL, "https://") {
		return fmt.Errorf("github.base_url must be an http(s) URL: %s", c.GitHub.BaseURL)
	}

	return nil
}

// ValidateServe checks the fields only the webhook server depends on. The
// one-shot sync command runs without them, so they are not part of Validate.
func (c *Config) ValidateServe() error {
	if c.Serve.ListenAddr == "" {
		return fmt.Errorf("serve.listen_addr is required")
	}
	if c.Serve.WebhookSecretFile == "" {
		return fmt.Errorf("serve.webhook_secret_file is required")
	}
	return nil
}
