// Package output renders command results for the terminal.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sjawhar/intake/internal/session"
	"github.com/sjawhar/intake/internal/storage"
)

type Formatter struct {
	w   io.Writer
	now func() time.Time
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w, now: time.Now}
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

// Status prints a localized session status with the icon for its level.
func (f *Formatter) Status(s session.Status) {
	switch s.Level {
	case session.LevelError:
		f.Error(s.Text)
	case session.LevelWarning:
		f.Warning(s.Text)
	default:
		f.Info(s.Text)
	}
}

// Session prints the session status followed by its artifacts grouped by kind.
func (f *Formatter) Session(snap session.Snapshot) {
	f.Status(snap.Status)
	if snap.PatientID == "" {
		return
	}
	registered := "no"
	if snap.Registered {
		registered = "yes"
	}
	fmt.Fprintf(f.w, "\n📁 Patient %s (%s, registered: %s)\n", snap.PatientID, snap.State, registered)
	f.group("Documents", snap.Artifacts.PDF)
	f.group("Recordings", snap.Artifacts.Audio)
	f.group("Transcripts", snap.Artifacts.Transcript)
	if c := snap.Candidate; c != nil {
		fmt.Fprintf(f.w, "\n🎙️  Local recording %s, %s, %s (not uploaded)\n",
			c.RecordingID, humanize.IBytes(uint64(max(c.Size, 0))), FormatDuration(c.Duration))
	}
}

func (f *Formatter) group(title string, artifacts []session.Artifact) {
	if len(artifacts) == 0 {
		return
	}
	fmt.Fprintf(f.w, "\n  %s:\n", title)
	for _, a := range artifacts {
		fmt.Fprintf(f.w, "    %s\n", f.artifactLine(a))
	}
}

func (f *Formatter) artifactLine(a session.Artifact) string {
	parts := []string{a.FileName}
	if a.SizeBytes > 0 {
		parts = append(parts, humanize.IBytes(uint64(a.SizeBytes)))
	}
	if a.PageCount != nil {
		parts = append(parts, humanize.Comma(int64(*a.PageCount))+" pages")
	}
	if a.Duration != nil {
		parts = append(parts, FormatDuration(*a.Duration))
	}
	if !a.LastModified.IsZero() {
		parts = append(parts, humanize.RelTime(a.LastModified, f.now(), "ago", "from now"))
	}
	return strings.Join(parts, "  ·  ")
}

// Operations prints journal entries, newest first.
func (f *Formatter) Operations(ops []storage.Operation) {
	if len(ops) == 0 {
		f.Info("No operations recorded")
		return
	}
	for _, op := range ops {
		icon := "✅"
		switch op.Outcome {
		case storage.OutcomeFailed:
			icon = "❌"
		case storage.OutcomeRejected, storage.OutcomeStale:
			icon = "⏭️ "
		}
		line := fmt.Sprintf("%s %-8s %-24s %s", icon, op.Kind, op.State, humanize.RelTime(op.CreatedAt, f.now(), "ago", "from now"))
		if op.Detail != "" {
			line += "  " + op.Detail
		}
		fmt.Fprintln(f.w, line)
	}
}

func (f *Formatter) Text(text string) {
	fmt.Fprintln(f.w, strings.TrimRight(text, "\n"))
}

// FormatDuration renders d as 1h02m03s, 2m03s or 3s.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
