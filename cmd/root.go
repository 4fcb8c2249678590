package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curator",
		Short: "Edit exhibit records and their photo attachments against a collection API",
		Long: `Curator edits exhibit records ("items") together with their ordered photo
attachments ("assets") against a remote collection-management API.

Edits are applied optimistically and reconciled on save: deletions, uploads,
reordering and attribute changes each succeed or fail independently, partial
failures are reported per step, and concurrent edits by other users are
detected and resynchronized instead of overwritten.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newReportCmd())

	return cmd
}
