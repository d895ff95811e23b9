package main

import (
	"context"

	"github.com/spf13/cobra"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <file>",
	Short: "Get merged diagnostics for a file",
	Long: `Get diagnostics for a file from every language server claiming it.
Entries without a source tag are attributed to the reporting server.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiagnostics,
}

func init() {
	rootCmd.AddCommand(diagnosticsCmd)
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	b, closeBridge, err := buildBridge()
	if err != nil {
		return err
	}
	defer closeBridge()

	diags, err := b.dispatcher.Diagnostics(context.Background(), args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"diagnostics": diags, "count": len(diags)})
}
