package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/reposync/internal/app"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-derive every catalog record from GitHub",
		Long: `Loads the stored catalog, refreshes every record from its html_url with the
worker pool, and writes the catalog back once every record has been processed.
Local fields (categories, scanner mapping, attribution, unknown keys) are kept.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime) error {
			summary, err := rt.app.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			return writeSummary(cmd.OutOrStdout(), summary)
		}),
	}
}

func writeSummary(w io.Writer, summary app.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
