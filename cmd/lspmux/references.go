package main

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	referencesKindFlag   string
	referencesNoDeclFlag bool
)

var referencesCmd = &cobra.Command{
	Use:   "references <file> <symbol>",
	Short: "Find all references to a symbol",
	Args:  cobra.ExactArgs(2),
	RunE:  runReferences,
}

func init() {
	rootCmd.AddCommand(referencesCmd)
	referencesCmd.Flags().StringVar(&referencesKindFlag, "kind", "",
		"Symbol kind hint (class, function, method, ...) to disambiguate")
	referencesCmd.Flags().BoolVar(&referencesNoDeclFlag, "no-declaration", false,
		"Exclude the declaration itself from the results")
}

func runReferences(cmd *cobra.Command, args []string) error {
	b, closeBridge, err := buildBridge()
	if err != nil {
		return err
	}
	defer closeBridge()

	locs, err := b.dispatcher.References(context.Background(), args[0], args[1],
		referencesKindFlag, !referencesNoDeclFlag)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"references": locs, "count": len(locs)})
}
