package main

import (
	"context"

	"github.com/spf13/cobra"

	"lspmux/internal/dispatch"
)

var (
	renameKindFlag   string
	renameDryRunFlag bool
	renameBackupFlag bool
)

var renameCmd = &cobra.Command{
	Use:   "rename <file> <symbol> <new-name>",
	Short: "Rename a symbol across the workspace",
	Long: `Rename a symbol everywhere the owning language server knows about.
If the symbol name matches more than one declaration in the file, the rename
is rejected with the candidate locations; pass --kind to disambiguate.`,
	Args: cobra.ExactArgs(3),
	RunE: runRename,
}

func init() {
	rootCmd.AddCommand(renameCmd)
	renameCmd.Flags().StringVar(&renameKindFlag, "kind", "",
		"Symbol kind hint (class, function, method, ...) to disambiguate")
	renameCmd.Flags().BoolVar(&renameDryRunFlag, "dry-run", false,
		"Report the files and edit counts without modifying anything")
	renameCmd.Flags().BoolVar(&renameBackupFlag, "backup", false,
		"Write a .bak copy of each file before modifying it")
}

func runRename(cmd *cobra.Command, args []string) error {
	b, closeBridge, err := buildBridge()
	if err != nil {
		return err
	}
	defer closeBridge()

	result, err := b.dispatcher.Rename(context.Background(), args[0], args[1], dispatch.RenameOptions{
		NewName: args[2],
		Kind:    renameKindFlag,
		DryRun:  renameDryRunFlag,
		Backup:  renameBackupFlag,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}
