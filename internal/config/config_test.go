// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults and the TOML credentials file

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8170"

database:
  path: "./test.db"

chat:
  base_url: "https://chat.example.com"
  email: "bot@example.com"
  api_key: "secret-key"
  channel_prefix: "bots-"
  notification_channel: "notifications"

presence:
  state_path: "./afk.json"

instance:
  name: "build-box"
  project_dir: "/srv/project"

auth:
  require_auth: true
  jwt_secret: "jwt-secret"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8170" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8170")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Chat.BaseURL != "https://chat.example.com" {
		t.Errorf("Chat.BaseURL = %q", cfg.Chat.BaseURL)
	}
	if cfg.Chat.ChannelPrefix != "bots-" {
		t.Errorf("Chat.ChannelPrefix = %q, want %q", cfg.Chat.ChannelPrefix, "bots-")
	}
	if cfg.Presence.StatePath != "./afk.json" {
		t.Errorf("Presence.StatePath = %q", cfg.Presence.StatePath)
	}
	if cfg.Instance.Name != "build-box" {
		t.Errorf("Instance.Name = %q", cfg.Instance.Name)
	}
	if !cfg.Auth.RequireAuth || cfg.Auth.JWTSecret != "jwt-secret" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
chat:
  base_url: "https://chat.example.com"
  email: "bot@example.com"
  api_key: "secret-key"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8170" {
		t.Errorf("default HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Chat.ChannelPrefix != "agents-" {
		t.Errorf("default ChannelPrefix = %q", cfg.Chat.ChannelPrefix)
	}
	if cfg.Chat.NotificationChannel != "agent-notifications" {
		t.Errorf("default NotificationChannel = %q", cfg.Chat.NotificationChannel)
	}
	if cfg.Database.Path == "" || cfg.Presence.StatePath == "" {
		t.Error("expected default state paths")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q", cfg.Logging.Level)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_KEY", "expanded-key")

	configPath := writeConfig(t, `
chat:
  base_url: "https://chat.example.com"
  email: "bot@example.com"
  api_key: "${TEST_CHAT_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Chat.APIKey != "expanded-key" {
		t.Errorf("Chat.APIKey = %q, want expanded value", cfg.Chat.APIKey)
	}
}

func TestLoad_CredentialsFile(t *testing.T) {
	tmpDir := t.TempDir()
	credsPath := filepath.Join(tmpDir, "chatrc")
	credsContent := `
[api]
site = "https://creds.example.com"
email = "creds@example.com"
key = "creds-key"
`
	if err := os.WriteFile(credsPath, []byte(credsContent), 0600); err != nil {
		t.Fatalf("failed to write credentials file: %v", err)
	}

	configPath := writeConfig(t, `
chat:
  base_url: "https://inline.example.com"
  email: "inline@example.com"
  api_key: "inline-key"
  credentials_file: "`+credsPath+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Credentials file wins over inline values
	if cfg.Chat.BaseURL != "https://creds.example.com" {
		t.Errorf("Chat.BaseURL = %q, want credentials file value", cfg.Chat.BaseURL)
	}
	if cfg.Chat.Email != "creds@example.com" {
		t.Errorf("Chat.Email = %q", cfg.Chat.Email)
	}
	if cfg.Chat.APIKey != "creds-key" {
		t.Errorf("Chat.APIKey = %q", cfg.Chat.APIKey)
	}
}

func TestLoad_MissingCredentialsFile(t *testing.T) {
	configPath := writeConfig(t, `
chat:
  base_url: "https://chat.example.com"
  email: "bot@example.com"
  api_key: "key"
  credentials_file: "/does/not/exist"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("expected an error for a missing credentials file")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing chat backend",
			content: `
database:
  path: "./test.db"
`,
			wantErr: "chat.base_url",
		},
		{
			name: "missing credentials",
			content: `
chat:
  base_url: "https://chat.example.com"
`,
			wantErr: "chat.email",
		},
		{
			name: "auth required without secret or tokens",
			content: `
chat:
  base_url: "https://chat.example.com"
  email: "bot@example.com"
  api_key: "key"
auth:
  require_auth: true
`,
			wantErr: "auth.jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "{not: valid: yaml")); err == nil {
		t.Error("expected an error for invalid YAML")
	}
}
