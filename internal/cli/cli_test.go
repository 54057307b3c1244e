package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjawhar/intake/internal/app"
	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/gateway/gatewaytest"
	"github.com/sjawhar/intake/internal/session"
)

type fixture struct {
	gw  *gatewaytest.Server
	out *bytes.Buffer
	dir string
	cfg config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	gw := gatewaytest.NewServer(t)

	cfg, _, err := config.Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.Locale = "en"
	cfg.DBPath = filepath.Join(dir, "intake.db")
	cfg.ExportDir = filepath.Join(dir, "exports")
	cfg.Recording.Dir = filepath.Join(dir, "recordings")
	cfg.Registry.URL = ""
	cfg.Registry.Path = filepath.Join(dir, "settings.json")
	cfg.GDriveFolderID = ""
	cfg.DeepgramAPIKey = ""
	cfg.Gateway.BaseURL = gw.URL
	cfg.Gateway.Branch = gatewaytest.Branch
	cfg.Gateway.Endpoints = gatewaytest.Endpoints()
	cfg.GatewayAPIKey = gatewaytest.APIKey
	cfg.Summarization.Backend = config.BackendGateway

	return &fixture{gw: gw, out: &bytes.Buffer{}, dir: dir, cfg: cfg}
}

// run executes one command against a fresh App, the way a shell invocation would.
func (f *fixture) run(t *testing.T, args ...string) (*Dependencies, error) {
	t.Helper()
	f.out.Reset()
	deps := &Dependencies{
		Out: f.out,
		Load: func(ctx context.Context, _ string) (*app.App, error) {
			return app.New(ctx, f.cfg, nil, nil)
		},
	}
	cmd := NewRootCmd(deps)
	cmd.SetArgs(args)
	cmd.SetOut(f.out)
	cmd.SetErr(f.out)
	return deps, cmd.ExecuteContext(context.Background())
}

func TestResolveExistingPatient(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("1607")
	f.gw.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}))

	deps, err := f.run(t, "resolve", "1607")
	require.NoError(t, err)

	snap := deps.App.Session.Snapshot()
	assert.Equal(t, session.StateExistingWithArtifacts, snap.State)
	assert.Contains(t, f.out.String(), "Patient 1607 loaded with 1 files.")
	assert.Contains(t, f.out.String(), "Transcripts:")
	assert.Contains(t, f.out.String(), "1607.json")
}

func TestResolveInvalidID(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "resolve", "16a7")
	require.ErrorIs(t, err, session.ErrInvalidPatientID)
	assert.Zero(t, f.gw.Calls("files"))
}

func TestCreatePatient(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "create", "2001")
	require.NoError(t, err)
	assert.True(t, f.gw.HasFolder("2001"))
	assert.Contains(t, f.out.String(), "Patient 2001 created.")

	_, err = f.run(t, "create", "2001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestDeleteRequiresYes(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("1607")

	_, err := f.run(t, "delete", "1607")
	require.ErrorIs(t, err, session.ErrConfirmationRequired)
	assert.Contains(t, err.Error(), "--yes")
	assert.True(t, f.gw.HasFolder("1607"))

	_, err = f.run(t, "delete", "1607", "--yes")
	require.NoError(t, err)
	assert.False(t, f.gw.HasFolder("1607"))
}

func TestUploadDocument(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("1607")

	pdf := filepath.Join(f.dir, "intake.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4\n%%EOF\n"), 0o644))

	_, err := f.run(t, "upload", "doc", "1607", pdf)
	require.NoError(t, err)
	_, ok := f.gw.File("1607", "1607.pdf")
	assert.True(t, ok)
}

func TestUploadDocumentRejectsNonPDF(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("1607")

	txt := filepath.Join(f.dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("notes"), 0o644))

	_, err := f.run(t, "upload", "doc", "1607", txt)
	require.ErrorIs(t, err, session.ErrUnsupportedFile)
	assert.Zero(t, f.gw.Calls("upload"))
}

func TestRmRequiresYes(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("1607")
	f.gw.PutFile("1607", "1607.pdf", []byte("%PDF-1.4\n"))

	_, err := f.run(t, "rm", "1607", "1607.pdf")
	require.ErrorIs(t, err, session.ErrConfirmationRequired)

	_, err = f.run(t, "rm", "1607", "1607.pdf", "-y")
	require.NoError(t, err)
	_, ok := f.gw.File("1607", "1607.pdf")
	assert.False(t, ok)
}

func TestLogShowsJournal(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "create", "2001")
	require.NoError(t, err)

	_, err = f.run(t, "log", "2001")
	require.NoError(t, err)
	out := f.out.String()
	assert.Contains(t, out, "create")
	assert.Contains(t, out, "resolve")
}

func TestTranscriptShowAndSave(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("1607")
	f.gw.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON(
		[2]string{"spk_0", "hello"},
		[2]string{"spk_1", "hi"},
	))

	_, err := f.run(t, "transcript", "show", "1607", "1607.json")
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "Speaker 1: hello")

	edited := filepath.Join(f.dir, "edited.txt")
	require.NoError(t, os.WriteFile(edited, []byte("Speaker 1: hello there\nSpeaker 2: hi\n"), 0o644))
	_, err = f.run(t, "transcript", "save", "1607", "1607.json", "-f", edited)
	require.NoError(t, err)

	_, err = f.run(t, "transcript", "show", "1607", "1607.json")
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "Speaker 1: hello there")
}

func TestTranscribeUploadLocalRecording(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("1607")
	local := filepath.Join(f.dir, "visit.mp4")
	require.NoError(t, os.WriteFile(local, []byte("recording"), 0o600))

	_, err := f.run(t, "transcribe", "--upload", "1607", local)
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "Transcript saved: 1607.json")
	assert.Contains(t, f.out.String(), "Speaker 1: hello")
	_, ok := f.gw.File("1607", "1607.json")
	assert.True(t, ok)

	_, err = f.run(t, "transcribe", "--upload", "1607", filepath.Join(f.dir, "notes.txt"))
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	f.gw.AddFolder("1607")
	f.gw.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}))

	_, err := f.run(t, "summarize", "1607")
	require.NoError(t, err)
	out := f.out.String()
	assert.Contains(t, out, "summary text")
	assert.Contains(t, out, "Summary saved: "+f.cfg.ExportDir)
}

func TestRegistryListLocal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.cfg.Registry.Path, []byte(`{"allowedNumbers": [1607, "0420"]}`), 0o644))

	_, err := f.run(t, "registry", "list", "--local")
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "1607")
	assert.Contains(t, f.out.String(), "0420")
}
