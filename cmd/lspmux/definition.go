package main

import (
	"context"

	"github.com/spf13/cobra"
)

var definitionKindFlag string

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <symbol>",
	Short: "Find where a symbol is defined",
	Args:  cobra.ExactArgs(2),
	RunE:  runDefinition,
}

func init() {
	rootCmd.AddCommand(definitionCmd)
	definitionCmd.Flags().StringVar(&definitionKindFlag, "kind", "",
		"Symbol kind hint (class, function, method, ...) to disambiguate")
}

func runDefinition(cmd *cobra.Command, args []string) error {
	b, closeBridge, err := buildBridge()
	if err != nil {
		return err
	}
	defer closeBridge()

	locs, err := b.dispatcher.Definition(context.Background(), args[0], args[1], definitionKindFlag)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"locations": locs})
}
