package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var submissionPath string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Merge one user submission into the catalog",
		Long: `Parses a submission (the issue form JSON), validates its scanner mapping
against the repository, merges it into the catalog, and credits the submitting
user (sync.user_id) in the contributor ledger.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime) error {
			payload, err := readSubmission(cmd.InOrStdin(), submissionPath)
			if err != nil {
				return err
			}
			summary, err := rt.app.Submit(cmd.Context(), payload)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			return writeSummary(cmd.OutOrStdout(), summary)
		}),
	}
	cmd.Flags().StringVar(&submissionPath, "submission", "", `submission JSON file ("-" reads stdin)`)
	_ = cmd.MarkFlagRequired("submission")
	return cmd
}

func readSubmission(stdin io.Reader, path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("--submission is required")
	}
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read submission: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}
	return data, nil
}
