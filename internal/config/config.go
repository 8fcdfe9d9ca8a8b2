// ABOUTME: Configuration loading and parsing for teamchat-mcp
// ABOUTME: YAML with environment variable expansion, plus a TOML credentials file for the chat backend

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete teamchat-mcp configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Chat     ChatConfig     `yaml:"chat"`
	Presence PresenceConfig `yaml:"presence"`
	Instance InstanceConfig `yaml:"instance"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the MCP HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChatConfig holds the chat backend connection and routing settings.
// Credentials may come inline, from the environment via ${VAR} expansion,
// or from a separate TOML credentials file (credentials_file wins).
type ChatConfig struct {
	BaseURL             string `yaml:"base_url"`
	Email               string `yaml:"email"`
	APIKey              string `yaml:"api_key"`
	CredentialsFile     string `yaml:"credentials_file"`
	ChannelPrefix       string `yaml:"channel_prefix"`
	NotificationChannel string `yaml:"notification_channel"`
}

// PresenceConfig holds the AFK state file location
type PresenceConfig struct {
	StatePath string `yaml:"state_path"`
}

// InstanceConfig overrides the derived machine/project identity
type InstanceConfig struct {
	Name       string `yaml:"name"`
	ProjectDir string `yaml:"project_dir"`
}

// AuthConfig holds MCP authentication configuration
type AuthConfig struct {
	JWTSecret   string   `yaml:"jwt_secret"`
	RequireAuth bool     `yaml:"require_auth"`
	Tokens      []string `yaml:"tokens"` // pre-provisioned opaque access tokens
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// credentialsFile is the TOML shape of an external chat credentials file,
// compatible with the ~/.zuliprc-style [api] section.
type credentialsFile struct {
	API struct {
		Site  string `toml:"site"`
		Email string `toml:"email"`
		Key   string `toml:"key"`
	} `toml:"api"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded, and
// a configured chat credentials file is read and applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Chat.CredentialsFile != "" {
		if err := cfg.loadCredentials(); err != nil {
			return nil, fmt.Errorf("loading chat credentials: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with usable defaults for everything that has one.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8170"},
		Database: DatabaseConfig{Path: defaultStatePath("teamchat.db")},
		Chat: ChatConfig{
			ChannelPrefix:       "agents-",
			NotificationChannel: "agent-notifications",
		},
		Presence: PresenceConfig{StatePath: defaultStatePath("afk.json")},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// defaultStatePath places state files under the user config dir, falling
// back to the working directory when it cannot be determined.
func defaultStatePath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "teamchat-mcp", name)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// loadCredentials overrides the inline chat credentials with the contents of
// the configured TOML credentials file.
func (c *Config) loadCredentials() error {
	var creds credentialsFile
	if _, err := toml.DecodeFile(c.Chat.CredentialsFile, &creds); err != nil {
		return err
	}

	if creds.API.Site != "" {
		c.Chat.BaseURL = creds.API.Site
	}
	if creds.API.Email != "" {
		c.Chat.Email = creds.API.Email
	}
	if creds.API.Key != "" {
		c.Chat.APIKey = creds.API.Key
	}
	return nil
}

// Validate checks that all required configuration fields are present.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Chat.BaseURL == "" {
		return fmt.Errorf("chat.base_url is required (inline or via credentials_file)")
	}
	if c.Chat.Email == "" || c.Chat.APIKey == "" {
		return fmt.Errorf("chat.email and chat.api_key are required (inline or via credentials_file)")
	}
	if c.Chat.NotificationChannel == "" {
		return fmt.Errorf("chat.notification_channel is required")
	}
	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" && len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("auth.jwt_secret or auth.tokens required when auth.require_auth is set")
	}
	return nil
}

