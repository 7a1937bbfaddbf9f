package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	content := `
github:
  token_file: "/run/secrets/github-token"
  base_url: "https://ghe.example.com/api/v3"

rules:
  path: ".github/sporkfed.yaml"

sync:
  branch_prefix: "sporkfed/"

serve:
  listen_addr: "127.0.0.1:8080"
  webhook_secret_file: "/run/secrets/webhook-secret"
`

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify loaded values
	if cfg.GitHub.TokenFile != "/run/secrets/github-token" {
		t.Errorf("expected token file /run/secrets/github-token, got %s", cfg.GitHub.TokenFile)
	}
	if cfg.GitHub.BaseURL != "https://ghe.example.com/api/v3" {
		t.Errorf("expected base URL https://ghe.example.com/api/v3, got %s", cfg.GitHub.BaseURL)
	}
	if cfg.Serve.ListenAddr != "127.0.0.1:8080" {
		t.Errorf("expected listen addr 127.0.0.1:8080, got %s", cfg.Serve.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Rules.Path != DefaultRulesPath {
		t.Errorf("Rules.Path = %q, want %q", cfg.Rules.Path, DefaultRulesPath)
	}
	if cfg.Sync.BranchPrefix != DefaultBranchPrefix {
		t.Errorf("Sync.BranchPrefix = %q, want %q", cfg.Sync.BranchPrefix, DefaultBranchPrefix)
	}
	if cfg.Serve.ListenAddr != DefaultListenAddr {
		t.Errorf("Serve.ListenAddr = %q, want %q", cfg.Serve.ListenAddr, DefaultListenAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Rules: RulesConfig{Path: ".github/sporkfed.yaml"},
				Sync:  SyncConfig{BranchPrefix: "sporkfed/"},
			},
			wantErr: false,
		},
		{
			name: "absolute rules path",
			cfg: Config{
				Rules: RulesConfig{Path: "/etc/sporkfed.yaml"},
				Sync:  SyncConfig{BranchPrefix: "sporkfed/"},
			},
			wantErr: true,
		},
		{
			name: "branch prefix with refs prefix",
			cfg: Config{
				Rules: RulesConfig{Path: ".github/sporkfed.yaml"},
				Sync:  SyncConfig{BranchPrefix: "refs/heads/sporkfed/"},
			},
			wantErr: true,
		},
		{
			name: "branch prefix without trailing slash",
			cfg: Config{
				Rules: RulesConfig{Path: ".github/sporkfed.yaml"},
				Sync:  SyncConfig{BranchPrefix: "sporkfed"},
			},
			wantErr: true,
		},
		{
			name: "base url without scheme",
			cfg: Config{
				GitHub: GitHubConfig{BaseURL: "ghe.example.com/api/v3"},
				Rules:  RulesConfig{Path: ".github/sporkfed.yaml"},
				Sync:   SyncConfig{BranchPrefix: "sporkfed/"},
			},
			wantErr: true,
		},
		{
			name: "custom branch prefix",
			cfg: Config{
				Rules: RulesConfig{Path: ".github/sporkfed.yaml"},
				Sync:  SyncConfig{BranchPrefix: "bots/sync/"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	tests := []struct {
		name    string
		serve   ServeConfig
		wantErr bool
	}{
		{
			name:    "valid serve config",
			serve:   ServeConfig{ListenAddr: "127.0.0.1:8080", WebhookSecretFile: "/secret"},
			wantErr: false,
		},
		{
			name:    "missing listen addr",
			serve:   ServeConfig{WebhookSecretFile: "/secret"},
			wantErr: true,
		},
		{
			name:    "missing webhook secret file",
			serve:   ServeConfig{ListenAddr: "127.0.0.1:8080"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Serve: tt.serve}
			err := cfg.ValidateServe()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServe() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	if cfg.Rules.Path != DefaultRulesPath {
		t.Errorf("applyDefaults() did not set rules path, got %q, want %q", cfg.Rules.Path, DefaultRulesPath)
	}
	if cfg.Sync.BranchPrefix != DefaultBranchPrefix {
		t.Errorf("applyDefaults() did not set branch prefix, got %q, want %q", cfg.Sync.BranchPrefix, DefaultBranchPrefix)
	}
	if cfg.Serve.ListenAddr != DefaultListenAddr {
		t.Errorf("applyDefaults() did not set listen addr, got %q, want %q", cfg.Serve.ListenAddr, DefaultListenAddr)
	}

	// Explicit values must not be overwritten
	cfg2 := Config{
		Rules: RulesConfig{Path: "tools/sync-rules.yaml"},
		Sync:  SyncConfig{BranchPrefix: "bots/"},
		Serve: ServeConfig{ListenAddr: ":9090"},
	}
	cfg2.applyDefaults()

	if cfg2.Rules.Path != "tools/sync-rules.yaml" {
		t.Errorf("applyDefaults() overwrote explicit rules path, got %q", cfg2.Rules.Path)
	}
	if cfg2.Sync.BranchPrefix != "bots/" {
		t.Errorf("applyDefaults() overwrote explicit branch prefix, got %q", cfg2.Sync.BranchPrefix)
	}
	if cfg2.Serve.ListenAddr != ":9090" {
		t.Errorf("applyDefaults() overwrote explicit listen addr, got %q", cfg2.Serve.ListenAddr)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SPORKFED_TEST_HOME", "/home/testuser")

	cfg := Config{
		GitHub: GitHubConfig{
			TokenFile: "${SPORKFED_TEST_HOME}/token",
			BaseURL:   "https://${SPORKFED_TEST_HOME}/api/v3",
		},
		Rules: RulesConfig{
			Path: "${SPORKFED_TEST_HOME}/rules.yaml",
		},
		Sync: SyncConfig{
			BranchPrefix: "${SPORKFED_TEST_HOME}/",
		},
		Serve: ServeConfig{
			ListenAddr:        "${SPORKFED_TEST_HOME}:8080",
			WebhookSecretFile: "${SPORKFED_TEST_HOME}/secret",
		},
	}

	cfg.expandEnv()

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"GitHub.TokenFile", cfg.GitHub.TokenFile, "/home/testuser/token"},
		{"GitHub.BaseURL", cfg.GitHub.BaseURL, "https:///home/testuser/api/v3"},
		{"Rules.Path", cfg.Rules.Path, "/home/testuser/rules.yaml"},
		{"Sync.BranchPrefix", cfg.Sync.BranchPrefix, "/home/testuser/"},
		{"Serve.ListenAddr", cfg.Serve.ListenAddr, "/home/testuser:8080"},
		{"Serve.WebhookSecretFile", cfg.Serve.WebhookSecretFile, "/home/testuser/secret"},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("expandEnv() %s = %s, want %s", c.name, c.got, c.want)
		}
	}
}
