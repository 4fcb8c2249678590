package cmd

import (
	"fmt"

	"github.com/openexhibit/curator/internal/report"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var input string
	var output string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the YAML audit log to Parquet",
		Long: `Converts the YAML audit log written by "curator apply --report" into a
Parquet file for analysis tooling.`,
		Example: `  curator report --input reports/edits.yaml --output reports/edits.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := report.Load(input)
			if err != nil {
				return fmt.Errorf("failed to load audit log: %w", err)
			}
			if len(rows) == 0 {
				return fmt.Errorf("audit log %s is empty", input)
			}
			return report.ExportParquet(output, rows)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "YAML audit log to read (required)")
	cmd.Flags().StringVar(&output, "output", "", "Parquet file to write (required)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
