package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/recording"
	"github.com/sjawhar/intake/internal/session"
	"github.com/sjawhar/intake/internal/transcripts"
)

func NewResolveCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <patient-id>",
		Short: "Look up a patient and list their files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolve(cmd.Context(), deps, args[0]); err != nil {
				return err
			}
			deps.App.Session.Settle()
			deps.formatter().Session(deps.App.Session.Snapshot())
			return nil
		},
	}
}

func NewCreateCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "create <patient-id>",
		Short: "Create the folder for a new patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			sess := deps.App.Session
			if sess.Snapshot().State != session.StateNewPatient {
				deps.formatter().Session(sess.Snapshot())
				return fmt.Errorf("patient %s already exists", args[0])
			}
			if err := sess.CreatePatient(ctx); err != nil {
				return err
			}
			deps.formatter().Status(sess.Snapshot().Status)
			return nil
		},
	}
}

func NewDeleteCmd(deps *Dependencies) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <patient-id>",
		Short: "Delete a patient and all their files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			if err := deps.App.Session.DeletePatient(ctx, yes); err != nil {
				return confirmHint(err)
			}
			deps.formatter().Status(deps.App.Session.Snapshot().Status)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func NewUploadCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload an intake document or audio file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "doc <patient-id> <file.pdf>",
		Short: "Upload the intake PDF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			if _, err := deps.App.Session.UploadDocument(ctx, data); err != nil {
				return err
			}
			deps.formatter().Status(deps.App.Session.Snapshot().Status)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "audio <patient-id> <file.mp3|file.mp4>",
		Short: "Upload an existing audio recording",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			contentType := gateway.ContentTypeFor(strings.ToLower(filepath.Base(args[1])))
			if _, err := deps.App.Session.UploadAudio(ctx, data, contentType); err != nil {
				return err
			}
			deps.formatter().Status(deps.App.Session.Snapshot().Status)
			return nil
		},
	})
	return cmd
}

func NewRmCmd(deps *Dependencies) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rm <patient-id> <file>",
		Short: "Delete one file from a patient folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			name := args[1]
			if err := deps.App.Session.DeleteArtifactFile(ctx, name, gateway.KindOf(name), yes); err != nil {
				return confirmHint(err)
			}
			deps.formatter().Status(deps.App.Session.Snapshot().Status)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func NewLogCmd(deps *Dependencies) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log <patient-id>",
		Short: "Show the operation journal of a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := deps.App.Store.Operations(args[0], limit)
			if err != nil {
				return err
			}
			deps.formatter().Operations(ops)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func confirmHint(err error) error {
	if errors.Is(err, session.ErrConfirmationRequired) ||
		errors.Is(err, recording.ErrConfirmationRequired) ||
		errors.Is(err, transcripts.ErrConfirmationRequired) {
		return fmt.Errorf("%w (pass --yes)", err)
	}
	return err
}
