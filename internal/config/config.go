// Package config defines the lspmux configuration: the ordered backend
// list plus supervisor and logging settings. Order matters — when two
// backends tie on routing specificity, the earlier one wins.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete lspmux configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	// Backends is the ordered list of language server configurations.
	Backends []BackendConfig `json:"backends" mapstructure:"backends"`

	Supervisor SupervisorConfig `json:"supervisor" mapstructure:"supervisor"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// BackendConfig describes one language server backend. Immutable for the
// lifetime of any process spawned from it.
type BackendConfig struct {
	// Name is the friendly backend name, also used as the diagnostics
	// source tag when the server does not supply one.
	Name string `json:"name" mapstructure:"name"`

	// Extensions are the routing tokens this backend claims: file
	// extensions ("go", "module.css"), bare filenames ("go.mod") or
	// filename aliases ("dockerfile").
	Extensions []string `json:"extensions" mapstructure:"extensions"`

	// Command is the argv used to spawn the server (stdio transport).
	Command []string `json:"command" mapstructure:"command"`

	// RootDir optionally pins the workspace root. When set, routing
	// scores this backend by how specifically the root contains the
	// requested file.
	RootDir string `json:"rootDir,omitempty" mapstructure:"rootDir"`

	// InitOptions is merged into the initialize request's
	// initializationOptions field.
	InitOptions map[string]interface{} `json:"initOptions,omitempty" mapstructure:"initOptions"`

	// SettleMs holds readiness for this long after the handshake
	// completes, for servers that index asynchronously.
	SettleMs int `json:"settleMs,omitempty" mapstructure:"settleMs"`

	// LanguageID is the languageId reported on textDocument/didOpen.
	// Defaults to the first extension.
	LanguageID string `json:"languageId,omitempty" mapstructure:"languageId"`
}

// EffectiveLanguageID returns the didOpen languageId for this backend.
func (b *BackendConfig) EffectiveLanguageID() string {
	if b.LanguageID != "" {
		return b.LanguageID
	}
	if len(b.Extensions) > 0 {
		return b.Extensions[0]
	}
	return "plaintext"
}

// SupervisorConfig contains process supervision settings
type SupervisorConfig struct {
	// RequestTimeoutMs bounds steady-state requests.
	RequestTimeoutMs int `json:"requestTimeoutMs" mapstructure:"requestTimeoutMs"`

	// HandshakeTimeoutMs bounds the initialize exchange. Materially
	// longer than RequestTimeoutMs: cold servers may index first.
	HandshakeTimeoutMs int `json:"handshakeTimeoutMs" mapstructure:"handshakeTimeoutMs"`

	// OpenGraceMs is the pause after a first didOpen before querying.
	OpenGraceMs int `json:"openGraceMs" mapstructure:"openGraceMs"`

	// DiagnosticsSettleMs is the pause before merging diagnostics when
	// any routed backend just opened the document.
	DiagnosticsSettleMs int `json:"diagnosticsSettleMs" mapstructure:"diagnosticsSettleMs"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the built-in configuration: common language
// servers on their conventional stdio commands, no pinned roots.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Backends: []BackendConfig{
			{
				Name:       "gopls",
				Extensions: []string{"go", "go.mod", "go.sum"},
				Command:    []string{"gopls", "serve"},
				LanguageID: "go",
			},
			{
				Name:       "typescript-language-server",
				Extensions: []string{"ts", "tsx", "js", "jsx", "mjs", "cjs"},
				Command:    []string{"typescript-language-server", "--stdio"},
				LanguageID: "typescript",
			},
			{
				Name:       "pyright",
				Extensions: []string{"py", "pyi"},
				Command:    []string{"pyright-langserver", "--stdio"},
				LanguageID: "python",
			},
			{
				Name:       "rust-analyzer",
				Extensions: []string{"rs"},
				Command:    []string{"rust-analyzer"},
				LanguageID: "rust",
			},
			{
				Name:       "clangd",
				Extensions: []string{"c", "h", "cpp", "hpp", "cc", "cxx"},
				Command:    []string{"clangd"},
				LanguageID: "cpp",
			},
		},
		Supervisor: SupervisorConfig{
			RequestTimeoutMs:    8000,
			HandshakeTimeoutMs:  30000,
			OpenGraceMs:         300,
			DiagnosticsSettleMs: 1500,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <dir>/.lspmux/config.json, then
// applies the servers.yaml overlay if present. A missing config file
// yields DefaultConfig.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 1)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(dir, ".lspmux"))

	cfg := DefaultConfig()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file: defaults plus overlay
	} else {
		var loaded Config
		if err := v.Unmarshal(&loaded); err != nil {
			return nil, err
		}
		if len(loaded.Backends) > 0 {
			cfg.Backends = loaded.Backends
		}
		if loaded.Supervisor.RequestTimeoutMs > 0 {
			cfg.Supervisor.RequestTimeoutMs = loaded.Supervisor.RequestTimeoutMs
		}
		if loaded.Supervisor.HandshakeTimeoutMs > 0 {
			cfg.Supervisor.HandshakeTimeoutMs = loaded.Supervisor.HandshakeTimeoutMs
		}
		if loaded.Supervisor.OpenGraceMs > 0 {
			cfg.Supervisor.OpenGraceMs = loaded.Supervisor.OpenGraceMs
		}
		if loaded.Supervisor.DiagnosticsSettleMs > 0 {
			cfg.Supervisor.DiagnosticsSettleMs = loaded.Supervisor.DiagnosticsSettleMs
		}
		if loaded.Logging.Format != "" {
			cfg.Logging.Format = loaded.Logging.Format
		}
		if loaded.Logging.Level != "" {
			cfg.Logging.Level = loaded.Logging.Level
		}
	}

	overlay, err := LoadServersOverlay(dir)
	if err != nil {
		return nil, err
	}
	cfg.Backends = append(cfg.Backends, overlay...)

	return cfg, nil
}

// Save writes the configuration to <dir>/.lspmux/config.json
func (c *Config) Save(dir string) error {
	configDir := filepath.Join(dir, ".lspmux")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].name", i), Message: "backend name is required"}
		}
		if seen[b.Name] {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].name", i), Message: "duplicate backend name: " + b.Name}
		}
		seen[b.Name] = true
		if len(b.Command) == 0 {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].command", i), Message: "backend command is required"}
		}
		if len(b.Extensions) == 0 {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].extensions", i), Message: "backend must claim at least one routing token"}
		}
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
