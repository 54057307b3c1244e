// Package cli defines the intake command tree.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sjawhar/intake/internal/app"
	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/output"
)

// Loader builds the application for a config path.
type Loader func(ctx context.Context, configPath string) (*app.App, error)

type Dependencies struct {
	Load Loader
	Out  io.Writer

	App *app.App
}

func (d *Dependencies) formatter() *output.Formatter {
	return output.NewFormatter(d.Out)
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "intake",
		Short:         "Manage clinical intake patient files",
		Long:          "Resolve patients against the file gateway, upload intake documents and recordings, review transcripts and generate summaries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if deps.App != nil {
				return nil
			}
			if configPath == "" {
				configPath = os.Getenv(config.EnvPrefix + "CONFIG")
			}
			a, err := deps.Load(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			deps.App = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if deps.App == nil {
				return nil
			}
			return deps.App.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $INTAKE_CONFIG or intake.yaml)")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewResolveCmd(deps))
	rootCmd.AddCommand(NewCreateCmd(deps))
	rootCmd.AddCommand(NewDeleteCmd(deps))
	rootCmd.AddCommand(NewUploadCmd(deps))
	rootCmd.AddCommand(NewRmCmd(deps))
	rootCmd.AddCommand(NewLogCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewTranscribeCmd(deps))
	rootCmd.AddCommand(NewTranscriptCmd(deps))
	rootCmd.AddCommand(NewSummarizeCmd(deps))
	rootCmd.AddCommand(NewRegistryCmd(deps))

	return rootCmd
}

// resolve loads patientID into the session and reports its status.
func resolve(ctx context.Context, deps *Dependencies, patientID string) error {
	if err := deps.App.Session.Resolve(ctx, patientID); err != nil {
		deps.formatter().Status(deps.App.Session.Snapshot().Status)
		return err
	}
	return nil
}
