package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lspmux/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printJSON(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to .lspmux/config.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := configDirFlag
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			dir = wd
		}
		if err := config.DefaultConfig().Save(dir); err != nil {
			return err
		}
		fmt.Printf("Wrote %s/.lspmux/config.json\n", dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
