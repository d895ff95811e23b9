package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured backends",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	type backendStatus struct {
		Name       string   `json:"name"`
		Extensions []string `json:"extensions"`
		Command    []string `json:"command"`
		RootDir    string   `json:"rootDir,omitempty"`
	}
	backends := make([]backendStatus, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends = append(backends, backendStatus{
			Name:       b.Name,
			Extensions: b.Extensions,
			Command:    b.Command,
			RootDir:    b.RootDir,
		})
	}
	return printJSON(map[string]interface{}{"backends": backends})
}
