package main

import (
	"context"

	"github.com/spf13/cobra"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols <file>",
	Short: "List the symbols declared in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSymbols,
}

func init() {
	rootCmd.AddCommand(symbolsCmd)
}

func runSymbols(cmd *cobra.Command, args []string) error {
	b, closeBridge, err := buildBridge()
	if err != nil {
		return err
	}
	defer closeBridge()

	syms, err := b.dispatcher.DocumentSymbols(context.Background(), args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"symbols": syms, "count": len(syms)})
}
