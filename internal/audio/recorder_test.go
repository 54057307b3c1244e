package audio

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func copyEncoder(rawPath, outPath string, sampleRate int) error {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func TestRecorderProducesBlob(t *testing.T) {
	dir := t.TempDir()
	recorder := NewRecorder(dir, FormatMP4)
	recorder.encode = copyEncoder

	if err := recorder.StartSession("abc123"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	writer := recorder.Writer(bytes.NewBuffer(nil))
	if _, err := writer.Write([]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	blob, err := recorder.EndSession()
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if blob == nil {
		t.Fatal("expected blob")
	}
	if blob.Path != filepath.Join(dir, "abc123.mp4") {
		t.Fatalf("unexpected path %q", blob.Path)
	}
	if blob.ContentType != "video/mp4" {
		t.Fatalf("expected video/mp4, got %q", blob.ContentType)
	}
	if blob.Size != 6 {
		t.Fatalf("expected size 6, got %d", blob.Size)
	}

	data, err := blob.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected data %v", data)
	}

	if _, err := os.Stat(filepath.Join(dir, "abc123.pcm")); !os.IsNotExist(err) {
		t.Fatalf("expected raw pcm cleanup, stat err=%v", err)
	}
}

func TestBlobReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	blob := &Blob{ID: "x", Path: path}

	if err := blob.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := blob.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if !blob.Released() {
		t.Fatal("expected released")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	if _, err := blob.Bytes(); err == nil {
		t.Fatal("expected error reading released blob")
	}
}

func TestTeeWriterWritesToBothDestinations(t *testing.T) {
	dir := t.TempDir()
	recorder := NewRecorder(dir, FormatMP3)
	recorder.encode = copyEncoder

	if err := recorder.StartSession("tee"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	var downstream bytes.Buffer
	writer := recorder.Writer(&downstream)
	payload := []byte("hello-world")
	if _, err := writer.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if got := downstream.Bytes(); !bytes.Equal(got, payload) {
		t.Fatalf("downstream payload mismatch, got %q", string(got))
	}

	blob, err := recorder.EndSession()
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if blob.ContentType != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %q", blob.ContentType)
	}
}

func TestPausedSamplesAreDropped(t *testing.T) {
	dir := t.TempDir()
	recorder := NewRecorder(dir, FormatMP4)
	recorder.encode = copyEncoder

	if err := recorder.StartSession("paused"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	var downstream bytes.Buffer
	writer := recorder.Writer(&downstream)
	_, _ = writer.Write([]byte("aa"))
	recorder.SetPaused(true)
	if n, err := writer.Write([]byte("bb")); err != nil || n != 2 {
		t.Fatalf("paused write: n=%d err=%v", n, err)
	}
	recorder.SetPaused(false)
	_, _ = writer.Write([]byte("cc"))

	blob, err := recorder.EndSession()
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	data, _ := blob.Bytes()
	if string(data) != "aacc" {
		t.Fatalf("expected paused bytes dropped, got %q", data)
	}
	if downstream.String() != "aacc" {
		t.Fatalf("expected downstream gap, got %q", downstream.String())
	}
}

func TestEndSessionWithoutStartReturnsNil(t *testing.T) {
	recorder := NewRecorder(t.TempDir(), FormatMP4)
	blob, err := recorder.EndSession()
	if err != nil || blob != nil {
		t.Fatalf("expected nil blob and error, got %v %v", blob, err)
	}
}

func TestEncoderFailureLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	recorder := NewRecorder(dir, FormatMP4)
	recorder.encode = func(rawPath, outPath string, sampleRate int) error {
		_ = os.WriteFile(outPath, []byte("partial"), 0o644)
		return ErrEncoderUnavailable
	}

	if err := recorder.StartSession("fail"); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := recorder.EndSession(); !errors.Is(err, ErrEncoderUnavailable) {
		t.Fatalf("expected ErrEncoderUnavailable, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no leftover files, got %d", len(entries))
	}
}

func TestCheckEncoder(t *testing.T) {
	recorder := NewRecorder(t.TempDir(), FormatMP4)
	recorder.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	if err := recorder.CheckEncoder(); !errors.Is(err, ErrEncoderUnavailable) {
		t.Fatalf("expected ErrEncoderUnavailable, got %v", err)
	}

	mp3 := NewRecorder(t.TempDir(), FormatMP3)
	mp3.lookPath = func(name string) (string, error) {
		if name == "lame" {
			return "/usr/bin/lame", nil
		}
		return "", exec.ErrNotFound
	}
	if err := mp3.CheckEncoder(); err != nil {
		t.Fatalf("expected lame to satisfy mp3, got %v", err)
	}
}

func TestPCMDuration(t *testing.T) {
	if got := pcmDuration(32000*3, 16000); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	if got := pcmDuration(100, 0); got != 0 {
		t.Fatalf("expected 0 for unknown rate, got %v", got)
	}
}

func TestParseProbeDuration(t *testing.T) {
	got, err := parseProbeDuration("42.500000\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != 42500*time.Millisecond {
		t.Fatalf("expected 42.5s, got %v", got)
	}
	if _, err := parseProbeDuration("N/A"); err == nil {
		t.Fatal("expected error for N/A")
	}
}
