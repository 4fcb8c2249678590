package cmd

import (
	"fmt"
	"os"

	"github.com/openexhibit/curator/internal/config"
	"github.com/openexhibit/curator/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInspectCmd() *cobra.Command {
	var itemID string

	cmd := &cobra.Command{
		Use:     "inspect",
		Short:   "Print an item and its asset list",
		Example: `  curator inspect --item 1842`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			client := store.NewClient(cfg.APIBaseURL, cfg.APIToken)

			item, err := client.GetItem(cmd.Context(), itemID)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(item); err != nil {
				return fmt.Errorf("failed to encode item: %w", err)
			}
			return enc.Close()
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "Item id to inspect (required)")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}
