package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sjawhar/intake/internal/output"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var (
		upload bool
		yes    bool
		limit  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "record <patient-id>",
		Short: "Record the consultation until Ctrl+C",
		Long:  "Capture audio from the default microphone for a patient. Live captions are shown when a Deepgram key is configured. Press Ctrl+C to stop.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f := deps.formatter()
			if err := resolve(ctx, deps, args[0]); err != nil {
				return err
			}

			rec := deps.App.Recording
			if err := rec.Start(ctx, args[0], yes); err != nil {
				return confirmHint(err)
			}
			f.Info(fmt.Sprintf("Recording patient %s, press Ctrl+C to stop", args[0]))

			waitCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if limit > 0 {
				var cancel context.CancelFunc
				waitCtx, cancel = context.WithTimeout(waitCtx, limit)
				defer cancel()
			}
			<-waitCtx.Done()

			blob, err := rec.Stop(ctx)
			if err != nil {
				return err
			}
			f.Success(fmt.Sprintf("Recording stopped (%s, %s)", output.FormatDuration(blob.Duration), humanize.IBytes(uint64(max(blob.Size, 0)))))

			if !upload {
				f.Info("Saved locally: " + blob.Path)
				return nil
			}
			if _, err := deps.App.Session.UploadRecording(ctx); err != nil {
				return err
			}
			f.Status(deps.App.Session.Snapshot().Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the recording after stopping")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "replace an existing recording")
	cmd.Flags().DurationVar(&limit, "duration", 0, "stop automatically after this long")
	return cmd
}
