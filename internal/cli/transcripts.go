package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/transcribe"
	"github.com/sjawhar/intake/internal/transcripts"
)

func NewTranscribeCmd(deps *Dependencies) *cobra.Command {
	var upload bool
	cmd := &cobra.Command{
		Use:   "transcribe <patient-id> <recording>",
		Short: "Transcribe a stored recording",
		Long:  "Transcribes a recording in the patient folder. With --upload, <recording> is a local .mp4 file sent through the gateway's upload URL.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var recording []byte
			if upload {
				if !strings.EqualFold(filepath.Ext(args[1]), ".mp4") {
					return fmt.Errorf("%w: %s", transcripts.ErrNotRecording, args[1])
				}
				data, err := os.ReadFile(args[1])
				if err != nil {
					return fmt.Errorf("read recording: %w", err)
				}
				recording = data
			}
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			f := deps.formatter()
			f.Info(fmt.Sprintf("Transcribing %s...", args[1]))

			var (
				doc  *transcribe.Document
				name string
				err  error
			)
			if upload {
				doc, err = deps.App.Transcripts.TranscribeRecording(ctx, args[0], recording)
				name = transcripts.TranscriptName(gateway.CanonicalName(args[0], ".mp4"))
			} else {
				doc, err = deps.App.Transcripts.Transcribe(ctx, args[0], args[1])
				name = transcripts.TranscriptName(args[1])
			}
			if err != nil {
				return err
			}
			f.Success("Transcript saved: " + name)
			f.Text(doc.DisplayText())
			return nil
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "send a local .mp4 file instead of a stored recording")
	return cmd
}

func NewTranscriptCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Review and edit stored transcripts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <patient-id> <transcript.json>",
		Short: "Print a transcript with speaker names",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			text, err := deps.App.Transcripts.SelectTranscript(ctx, args[1])
			if err != nil {
				return err
			}
			deps.formatter().Text(text)
			return nil
		},
	})

	var from string
	save := &cobra.Command{
		Use:   "save <patient-id> <transcript.json>",
		Short: "Replace a transcript with edited text from a file or stdin",
		Long:  "Reads \"Speaker N: text\" lines, one per segment, and overwrites the stored transcript. Timing is kept.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				edited []byte
				err    error
			)
			if from == "" || from == "-" {
				edited, err = io.ReadAll(cmd.InOrStdin())
			} else {
				edited, err = os.ReadFile(from)
			}
			if err != nil {
				return fmt.Errorf("read edited transcript: %w", err)
			}
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			if err := deps.App.Transcripts.Save(ctx, args[1], string(edited)); err != nil {
				return err
			}
			deps.formatter().Success("Transcript saved: " + args[1])
			return nil
		},
	}
	save.Flags().StringVarP(&from, "file", "f", "", "edited transcript file (default stdin)")
	cmd.AddCommand(save)

	var yes bool
	rm := &cobra.Command{
		Use:   "rm <patient-id> <transcript.json>",
		Short: "Delete a transcript",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}
			if err := deps.App.Transcripts.Delete(ctx, args[1], yes); err != nil {
				return confirmHint(err)
			}
			deps.formatter().Success("Transcript deleted: " + args[1])
			return nil
		},
	}
	rm.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	cmd.AddCommand(rm)

	return cmd
}
