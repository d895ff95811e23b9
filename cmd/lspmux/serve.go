package main

import (
	"github.com/spf13/cobra"

	"lspmux/internal/mcp"
	"lspmux/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP tool server on stdio",
	Long: `Run the MCP tool server. Tool calls arrive as newline-delimited
JSON-RPC on stdin; results go to stdout. Language servers are spawned on
demand as tool calls route to them and are stopped when lspmux exits.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	b, closeBridge, err := buildBridge()
	if err != nil {
		return err
	}
	defer closeBridge()

	server := mcp.NewServer(version.Version, b.dispatcher, b.supervisor, b.logger)
	return server.Start()
}
