package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lspmux/internal/config"
	"lspmux/internal/dispatch"
	"lspmux/internal/logging"
	"lspmux/internal/lsp"
	"lspmux/internal/version"
)

var (
	configDirFlag string
	logLevelFlag  string
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "lspmux",
	Short: "lspmux - language server multiplexer",
	Long: `lspmux routes code-intelligence operations (definition, references,
rename, symbols, diagnostics) to language servers spawned per project root.
Servers speak stdio LSP; lspmux picks the right one per file, supervises the
processes, and merges the answers.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("lspmux version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "",
		"Directory containing .lspmux/config.json (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "",
		"Log format: human, json (overrides config)")
}

// loadConfig loads the effective configuration honoring --config-dir
func loadConfig() (*config.Config, error) {
	dir := configDirFlag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = wd
	}
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildLogger creates the logger from config with flag overrides
func buildLogger(cfg *config.Config) *logging.Logger {
	format := cfg.Logging.Format
	if logFormatFlag != "" {
		format = logFormatFlag
	}
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	return logging.NewLogger(logging.Config{
		Format: logging.Format(format),
		Level:  logging.LogLevel(level),
	})
}

// bridge bundles the wired components for one invocation
type bridge struct {
	cfg        *config.Config
	logger     *logging.Logger
	supervisor *lsp.Supervisor
	dispatcher *dispatch.Dispatcher
}

// buildBridge loads configuration and wires supervisor and dispatcher.
// Callers defer close to stop any backends the invocation spawned.
func buildBridge() (*bridge, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := buildLogger(cfg)
	supervisor := lsp.NewSupervisor(cfg, logger)
	dispatcher := dispatch.New(cfg, &dispatch.SupervisorAcquirer{Supervisor: supervisor}, logger)

	b := &bridge{
		cfg:        cfg,
		logger:     logger,
		supervisor: supervisor,
		dispatcher: dispatcher,
	}
	return b, supervisor.Shutdown, nil
}

// printJSON renders a result to stdout
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
