package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/intake/internal/transcribe"
)

func TestWriteSummary(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	path, err := w.WriteSummary("1607", Summary{
		Preset:    "intake",
		Summary:   "\nChief complaint: headache.\n",
		UpdatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local),
	})
	if err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}

	want := filepath.Join(dir, "1607", "2026-03-01-093000-summary-intake.md")
	if path != want {
		t.Fatalf("got path %s, want %s", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# Patient 1607\n") {
		t.Errorf("expected heading, got: %s", content)
	}
	if !strings.Contains(content, "Chief complaint: headache.\n") {
		t.Errorf("expected summary body, got: %s", content)
	}
}

func TestWriteTranscriptUsesDisplayNames(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	doc, err := transcribe.Parse([]byte(`{"results":{"transcripts":[{"transcript":"a b"}],"audio_segments":[
		{"transcript":"Hello.","speaker_label":"spk_1","start_time":"0.0"},
		{"transcript":"Hi.","speaker_label":"spk_0","start_time":"62.0"}
	]}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	path, err := w.WriteTranscript("1607", "1607.json", doc)
	if err != nil {
		t.Fatalf("WriteTranscript failed: %v", err)
	}
	if filepath.Base(path) != "1607.md" {
		t.Fatalf("unexpected path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "**[00:00] Speaker 1:** Hello.") {
		t.Errorf("expected first speaker line, got: %s", content)
	}
	if !strings.Contains(content, "**[01:02] Speaker 2:** Hi.") {
		t.Errorf("expected second speaker line, got: %s", content)
	}
}
