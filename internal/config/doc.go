// Package config loads the teamchat-mcp YAML configuration, expanding
// ${VAR} environment references and optionally pulling chat credentials
// from a separate TOML file so API keys stay out of the main config.
package config
