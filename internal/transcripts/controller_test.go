package transcripts

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/gateway/gatewaytest"
	"github.com/sjawhar/intake/internal/opguard"
	"github.com/sjawhar/intake/internal/session"
	"github.com/sjawhar/intake/internal/transcribe"
)

type statusEvent struct {
	patientID, fileName, status string
}

type recordingHub struct {
	mu     sync.Mutex
	events []statusEvent
}

func (h *recordingHub) BroadcastTranscriptStatus(patientID, fileName, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, statusEvent{patientID, fileName, status})
}

func (h *recordingHub) statuses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.status)
	}
	return out
}

func newController(t *testing.T) (*Controller, *gatewaytest.Server, *recordingHub) {
	t.Helper()
	srv := gatewaytest.NewServer(t)
	hub := &recordingHub{}
	c := NewController(Options{Gateway: srv.Client(), Hub: hub})
	return c, srv, hub
}

func TestListsTolerateMissingFolder(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()

	recordings, err := c.ListRecordings(ctx, "404")
	require.NoError(t, err)
	assert.Empty(t, recordings)

	transcripts, err := c.ListTranscripts(ctx, "404")
	require.NoError(t, err)
	assert.NotNil(t, transcripts)
	assert.Empty(t, transcripts)
}

func TestListRecordingsAndTranscripts(t *testing.T) {
	c, srv, _ := newController(t)
	ctx := context.Background()
	srv.PutFile("1607", "1607.mp4", []byte("a"))
	srv.PutFile("1607", "visit.mp3", []byte("b"))
	srv.PutFile("1607", "1607.pdf", []byte("%PDF"))
	srv.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "x"}))
	c.PatientSwitched("", "1607")

	recordings, err := c.ListRecordings(ctx, "1607")
	require.NoError(t, err)
	require.Len(t, recordings, 2)
	assert.Equal(t, "1607.mp4", recordings[0].FileName)
	assert.Equal(t, "visit.mp3", recordings[1].FileName)

	transcripts, err := c.ListTranscripts(ctx, "1607")
	require.NoError(t, err)
	require.Len(t, transcripts, 1)
	assert.Equal(t, gateway.KindTranscript, transcripts[0].Kind)

	snap := c.Snapshot()
	assert.Len(t, snap.Recordings, 2)
	assert.Len(t, snap.Transcripts, 1)
}

func TestSelectThenEditAndSave(t *testing.T) {
	c, srv, hub := newController(t)
	ctx := context.Background()
	srv.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}, [2]string{"spk_1", "hi"}))
	c.PatientSwitched("", "1607")

	display, err := c.SelectTranscript(ctx, "1607.json")
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1: hello\nSpeaker 2: hi", display)

	require.NoError(t, c.Save(ctx, "1607.json", "Speaker 1: hello there\nSpeaker 2: hi"))

	raw, ok := srv.File("1607", "1607.json")
	require.True(t, ok)
	doc, err := transcribe.Parse(raw)
	require.NoError(t, err)
	require.Len(t, doc.Segments, 2)
	assert.Equal(t, "hello there", doc.Segments[0].Text)
	assert.Equal(t, "spk_0", doc.Segments[0].Speaker)
	assert.Equal(t, "hi", doc.Segments[1].Text)
	assert.Equal(t, "spk_1", doc.Segments[1].Speaker)
	assert.InDelta(t, 1.0, doc.Segments[1].StartTime, 0.001)

	sel, ok := c.Selected()
	require.True(t, ok)
	assert.Equal(t, "Speaker 1: hello there\nSpeaker 2: hi", sel.DisplayText)
	assert.Contains(t, hub.statuses(), StatusSaved)
}

func TestSaveWithoutEditsRoundTrips(t *testing.T) {
	c, srv, _ := newController(t)
	ctx := context.Background()
	original := gatewaytest.TranscriptJSON(
		[2]string{"spk_1", "good morning"},
		[2]string{"spk_0", "ratio: 3 to 1"},
		[2]string{"spk_2", "ok"},
	)
	srv.PutFile("1607", "visit.json", original)
	c.PatientSwitched("", "1607")

	display, err := c.SelectTranscript(ctx, "visit.json")
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx, "visit.json", display))

	before, err := transcribe.Parse(original)
	require.NoError(t, err)
	raw, _ := srv.File("1607", "visit.json")
	after, err := transcribe.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, pairs(before), pairs(after))
}

func TestSaveMalformedEditUploadsNothing(t *testing.T) {
	c, srv, _ := newController(t)
	ctx := context.Background()
	original := gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}, [2]string{"spk_1", "hi"})
	srv.PutFile("1607", "1607.json", original)
	c.PatientSwitched("", "1607")

	_, err := c.SelectTranscript(ctx, "1607.json")
	require.NoError(t, err)

	err = c.Save(ctx, "1607.json", "Speaker 1: hello there")
	require.ErrorIs(t, err, transcribe.ErrMalformedTranscriptEdit)
	err = c.Save(ctx, "1607.json", "Doctor: hello\nSpeaker 2: hi")
	require.ErrorIs(t, err, transcribe.ErrMalformedTranscriptEdit)

	assert.Zero(t, srv.Calls("upload"))
	raw, _ := srv.File("1607", "1607.json")
	assert.Equal(t, original, raw)
}

func TestSaveLoadsDocumentWhenNotSelected(t *testing.T) {
	c, srv, _ := newController(t)
	srv.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}))
	c.PatientSwitched("", "1607")

	require.NoError(t, c.Save(context.Background(), "1607.json", "Speaker 1: bye"))
	raw, _ := srv.File("1607", "1607.json")
	doc, err := transcribe.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "bye", doc.Segments[0].Text)
}

func TestSaveRejectedWhileAnotherOperationRuns(t *testing.T) {
	guard := opguard.New()
	srv := gatewaytest.NewServer(t)
	c := NewController(Options{Gateway: srv.Client(), Guard: guard})
	srv.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}))
	c.PatientSwitched("", "1607")

	release, err := guard.Acquire("1607", "upload document")
	require.NoError(t, err)
	defer release()

	err = c.Save(context.Background(), "1607.json", "Speaker 1: bye")
	require.ErrorIs(t, err, opguard.ErrConcurrentOperationRejected)
	assert.Zero(t, srv.Calls("upload"))
}

func TestOperationsNeedPatient(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()

	_, err := c.SelectTranscript(ctx, "1607.json")
	assert.ErrorIs(t, err, ErrNoPatient)
	assert.ErrorIs(t, c.Save(ctx, "1607.json", "Speaker 1: x"), ErrNoPatient)
	assert.ErrorIs(t, c.Delete(ctx, "1607.json", true), ErrNoPatient)
	_, err = c.Transcribe(ctx, "", "1607.mp4")
	assert.ErrorIs(t, err, ErrNoPatient)
}

func TestTranscribeLoadsProducedDocument(t *testing.T) {
	c, srv, hub := newController(t)
	srv.PutFile("1607", "1607.mp4", []byte("audio"))
	srv.Segments = [][2]string{{"spk_0", "how are you"}, {"spk_1", "fine"}, {"spk_0", "good"}}

	doc, err := c.Transcribe(context.Background(), "1607", "1607.mp4")
	require.NoError(t, err)
	require.Len(t, doc.Segments, 3)
	assert.Equal(t, "Speaker 1: how are you\nSpeaker 2: fine\nSpeaker 1: good", doc.DisplayText())
	assert.Equal(t, []string{StatusTranscribing, StatusTranscribed}, hub.statuses())
}

func TestTranscribeFallsBackToReturnedText(t *testing.T) {
	c, srv, _ := newController(t)
	srv.PutFile("1607", "1607.mp4", []byte("audio"))
	srv.Transcript = "plain text result"
	srv.FailNext("files", http.StatusBadGateway)

	doc, err := c.Transcribe(context.Background(), "1607", "1607.mp4")
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1: plain text result", doc.DisplayText())
}

func TestTranscribeRejectsNonAudio(t *testing.T) {
	c, srv, _ := newController(t)
	_, err := c.Transcribe(context.Background(), "1607", "1607.pdf")
	require.ErrorIs(t, err, ErrNotRecording)
	assert.Zero(t, srv.Calls("transcribe"))
}

func TestTranscribeFailureIsReported(t *testing.T) {
	c, srv, hub := newController(t)
	srv.PutFile("1607", "1607.mp4", []byte("audio"))
	srv.FailNext("transcribe", http.StatusGatewayTimeout)

	_, err := c.Transcribe(context.Background(), "1607", "1607.mp4")
	require.ErrorIs(t, err, gateway.ErrNetwork)
	assert.Equal(t, []string{StatusTranscribing, StatusFailed}, hub.statuses())
}

func TestConcurrentTranscribeSharesOneCall(t *testing.T) {
	c, srv, _ := newController(t)
	srv.PutFile("1607", "1607.mp4", []byte("audio"))
	gate := make(chan struct{})
	srv.TranscribeGate = gate
	c.PatientSwitched("", "1607")

	type result struct {
		doc *transcribe.Document
		err error
	}
	results := make(chan result, 2)
	for range 2 {
		go func() {
			doc, err := c.Transcribe(context.Background(), "1607", "1607.mp4")
			results <- result{doc, err}
		}()
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.waiters["1607/1607.mp4"] == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1607.mp4"}, c.Snapshot().Pending)
	require.Eventually(t, func() bool { return srv.Calls("transcribe") == 1 }, 2*time.Second, 5*time.Millisecond)

	close(gate)

	first, second := <-results, <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Same(t, first.doc, second.doc)
	assert.Equal(t, 1, srv.Calls("transcribe"))
	assert.Empty(t, c.Snapshot().Pending)
}

func TestTranscribeCallerCancelDoesNotCancelSharedCall(t *testing.T) {
	c, srv, _ := newController(t)
	srv.PutFile("1607", "1607.mp4", []byte("audio"))
	gate := make(chan struct{})
	srv.TranscribeGate = gate

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Transcribe(ctx, "1607", "1607.mp4")
		errs <- err
	}()
	require.Eventually(t, func() bool { return srv.Calls("transcribe") == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	done := make(chan error, 1)
	go func() {
		_, err := c.Transcribe(context.Background(), "1607", "1607.mp4")
		done <- err
	}()
	close(gate)
	require.NoError(t, <-done)
	_, ok := srv.File("1607", "1607.json")
	assert.True(t, ok)
}

func TestTranscribeRecordingUploadsBytes(t *testing.T) {
	c, srv, hub := newController(t)
	srv.AddFolder("1607")

	doc, err := c.TranscribeRecording(context.Background(), "1607", []byte("recording"))
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1: hello\nSpeaker 2: hi", doc.DisplayText())
	assert.Equal(t, 2, srv.Calls("transcribe"))
	_, ok := srv.File("1607", "1607.json")
	assert.True(t, ok)
	assert.Equal(t, []string{StatusTranscribing, StatusTranscribed}, hub.statuses())

	_, err = c.TranscribeRecording(context.Background(), "1607", nil)
	require.ErrorIs(t, err, ErrNotRecording)
	_, err = c.TranscribeRecording(context.Background(), "", []byte("recording"))
	require.ErrorIs(t, err, ErrNoPatient)
}

func TestDeleteClearsSelection(t *testing.T) {
	c, srv, hub := newController(t)
	ctx := context.Background()
	srv.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}))
	srv.PutFile("1607", "other.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "x"}))
	c.PatientSwitched("", "1607")

	_, err := c.SelectTranscript(ctx, "1607.json")
	require.NoError(t, err)

	require.ErrorIs(t, c.Delete(ctx, "1607.json", false), ErrConfirmationRequired)
	_, ok := c.Selected()
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "other.json", true))
	_, ok = c.Selected()
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "1607.json", true))
	_, ok = c.Selected()
	assert.False(t, ok)
	_, exists := srv.File("1607", "1607.json")
	assert.False(t, exists)

	require.NoError(t, c.Delete(ctx, "1607.json", true))
	assert.Contains(t, hub.statuses(), StatusDeleted)
}

func TestChangesRefreshSession(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	srv.PutFile("1607", "1607.mp4", []byte("a"))
	srv.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}))
	mgr := session.NewManager(session.Options{Gateway: srv.Client(), Locale: "en"})
	t.Cleanup(mgr.Settle)
	c := NewController(Options{Gateway: srv.Client(), Session: mgr})
	mgr.AddListener(c)
	ctx := context.Background()

	require.NoError(t, mgr.Resolve(ctx, "1607"))
	require.Len(t, mgr.Snapshot().Artifacts.Transcript, 1)

	require.NoError(t, c.Delete(ctx, "1607.json", true))
	assert.Empty(t, mgr.Snapshot().Artifacts.Transcript)

	_, err := c.Transcribe(ctx, "1607", "1607.mp4")
	require.NoError(t, err)
	listed := mgr.Snapshot().Artifacts.Transcript
	require.Len(t, listed, 1)
	assert.Equal(t, "1607.json", listed[0].FileName)
}

func TestPatientEventsDropState(t *testing.T) {
	c, srv, _ := newController(t)
	ctx := context.Background()
	srv.PutFile("1607", "1607.json", gatewaytest.TranscriptJSON([2]string{"spk_0", "hello"}))
	c.PatientSwitched("", "1607")
	_, err := c.SelectTranscript(ctx, "1607.json")
	require.NoError(t, err)
	_, err = c.ListTranscripts(ctx, "1607")
	require.NoError(t, err)

	c.PatientDeleted("9999")
	_, ok := c.Selected()
	assert.True(t, ok)

	c.PatientDeleted("1607")
	_, ok = c.Selected()
	assert.False(t, ok)
	snap := c.Snapshot()
	assert.Empty(t, snap.PatientID)
	assert.Empty(t, snap.Transcripts)

	c.PatientSwitched("", "1607")
	_, err = c.SelectTranscript(ctx, "1607.json")
	require.NoError(t, err)
	c.PatientSwitched("1607", "1234")
	_, ok = c.Selected()
	assert.False(t, ok)
}

func pairs(doc *transcribe.Document) [][2]string {
	out := make([][2]string, len(doc.Segments))
	for i, s := range doc.Segments {
		out[i] = [2]string{s.Speaker, s.Text}
	}
	return out
}
