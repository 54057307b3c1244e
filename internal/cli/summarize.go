package cli

import (
	"github.com/spf13/cobra"

	"github.com/sjawhar/intake/internal/summary"
)

func NewSummarizeCmd(deps *Dependencies) *cobra.Command {
	var preset string
	cmd := &cobra.Command{
		Use:   "summarize <patient-id>",
		Short: "Summarize a patient's documents and transcripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f := deps.formatter()
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			f.Info("Generating summary...")
			result, err := deps.App.Summary.SummarizePatient(ctx, args[0], preset)
			if err != nil {
				return err
			}
			if result.Cached {
				f.Info("Nothing changed since the last summary, showing it again")
			}
			f.Text(result.Summary)
			if result.ExportPath != "" {
				f.Success("Summary saved: " + result.ExportPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&preset, "preset", "p", summary.PresetAuto, "summary preset, or auto")
	return cmd
}
