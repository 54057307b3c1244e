// Package transcripts reconciles a patient's recordings, stored transcripts
// and the transcript currently open for editing.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/opguard"
	"github.com/sjawhar/intake/internal/transcribe"
)

// Transcript statuses broadcast to the event hub.
const (
	StatusTranscribing = "transcribing"
	StatusTranscribed  = "transcribed"
	StatusFailed       = "failed"
	StatusSaved        = "saved"
	StatusDeleted      = "deleted"
)

type Gateway interface {
	ListArtifacts(ctx context.Context, patientID, pattern string) (gateway.Listing, error)
	Transcribe(ctx context.Context, patientID, fileName string) (string, error)
	TranscribeUpload(ctx context.Context, patientID string, recording []byte) (string, error)
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	Upload(ctx context.Context, req gateway.UploadRequest) error
	DeleteArtifact(ctx context.Context, patientID, fileName string) error
}

type EventBroadcaster interface {
	BroadcastTranscriptStatus(patientID, fileName, status string)
}

// Refresher re-lists the active patient's artifacts after the transcript set
// changed. session.Manager implements it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Selection is the transcript currently open for review.
type Selection struct {
	PatientID   string
	FileName    string
	Document    *transcribe.Document
	DisplayText string
}

// Snapshot is the controller's view of the current patient.
type Snapshot struct {
	PatientID   string             `json:"patient_id"`
	Recordings  []gateway.Artifact `json:"recordings"`
	Transcripts []gateway.Artifact `json:"transcripts"`
	Selected    string             `json:"selected,omitempty"`
	Pending     []string           `json:"pending,omitempty"`
}

type Options struct {
	Gateway Gateway
	Session Refresher
	Guard   *opguard.Guard
	Hub     EventBroadcaster
	Logger  *slog.Logger
}

type Controller struct {
	gw      Gateway
	session Refresher
	guard   *opguard.Guard
	hub     EventBroadcaster
	logger  *slog.Logger
	group   singleflight.Group

	mu          sync.Mutex
	patientID   string
	recordings  []gateway.Artifact
	transcripts []gateway.Artifact
	selected    *Selection
	waiters     map[string]int
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := opts.Guard
	if guard == nil {
		guard = opguard.New()
	}
	return &Controller{
		gw:      opts.Gateway,
		session: opts.Session,
		guard:   guard,
		hub:     opts.Hub,
		logger:  logger.With("component", "transcripts"),
		waiters: map[string]int{},
	}
}

// ListRecordings returns the patient's audio artifacts. A missing folder is an
// empty list.
func (c *Controller) ListRecordings(ctx context.Context, patientID string) ([]gateway.Artifact, error) {
	var out []gateway.Artifact
	for _, pattern := range []string{gateway.PatternMP4, gateway.PatternMP3} {
		artifacts, err := c.list(ctx, patientID, pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, artifacts...)
	}
	if out == nil {
		out = []gateway.Artifact{}
	}

	c.mu.Lock()
	if c.patientID == patientID {
		c.recordings = out
	}
	c.mu.Unlock()
	return out, nil
}

// ListTranscripts returns the patient's transcript documents. A missing folder
// is an empty list.
func (c *Controller) ListTranscripts(ctx context.Context, patientID string) ([]gateway.Artifact, error) {
	out, err := c.list(ctx, patientID, gateway.PatternTranscript)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.patientID == patientID {
		c.transcripts = out
	}
	c.mu.Unlock()
	return out, nil
}

func (c *Controller) list(ctx context.Context, patientID, pattern string) ([]gateway.Artifact, error) {
	listing, err := c.gw.ListArtifacts(ctx, patientID, pattern)
	if err != nil {
		return nil, err
	}
	if !listing.Exists || listing.Artifacts == nil {
		return []gateway.Artifact{}, nil
	}
	return listing.Artifacts, nil
}

// Transcribe runs server-side transcription of a recording. Concurrent calls
// for the same recording share one gateway request and its result.
func (c *Controller) Transcribe(ctx context.Context, patientID, fileName string) (*transcribe.Document, error) {
	if patientID == "" {
		return nil, ErrNoPatient
	}
	if gateway.KindOf(fileName) != gateway.KindAudio {
		return nil, fmt.Errorf("%w: %s", ErrNotRecording, fileName)
	}

	key := patientID + "/" + fileName
	c.mu.Lock()
	c.waiters[key]++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.waiters[key]--; c.waiters[key] <= 0 {
			delete(c.waiters, key)
		}
		c.mu.Unlock()
	}()

	// The shared call must outlive any single caller's context.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.transcribe(shared, patientID, fileName)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*transcribe.Document), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Controller) transcribe(ctx context.Context, patientID, fileName string) (*transcribe.Document, error) {
	c.broadcast(patientID, fileName, StatusTranscribing)
	c.logger.Info("transcription started", "patient_id", patientID, "file", fileName)

	text, err := c.gw.Transcribe(ctx, patientID, fileName)
	if err != nil {
		c.broadcast(patientID, fileName, StatusFailed)
		return nil, fmt.Errorf("transcribe %s: %w", fileName, err)
	}

	docName := TranscriptName(fileName)
	doc, err := c.load(ctx, patientID, docName)
	if err != nil {
		c.logger.Warn("stored transcript unavailable, using returned text", "patient_id", patientID, "file", docName, "error", err)
		doc = transcribe.FromText(text)
	}

	c.logger.Info("transcription finished", "patient_id", patientID, "file", fileName, "segments", len(doc.Segments))
	c.broadcast(patientID, fileName, StatusTranscribed)
	c.refresh(ctx, patientID)
	return doc, nil
}

// TranscribeRecording transcribes an mp4 recording that is not stored in the
// patient folder, using the gateway's upload URL flow. The transcript is
// written under the patient's canonical name.
func (c *Controller) TranscribeRecording(ctx context.Context, patientID string, recording []byte) (*transcribe.Document, error) {
	if patientID == "" {
		return nil, ErrNoPatient
	}
	if len(recording) == 0 {
		return nil, fmt.Errorf("%w: empty recording", ErrNotRecording)
	}

	source := gateway.CanonicalName(patientID, ".mp4")
	var doc *transcribe.Document
	err := c.guard.Do(patientID+"/transcribe", "transcribe recording", func() error {
		c.broadcast(patientID, source, StatusTranscribing)
		text, err := c.gw.TranscribeUpload(ctx, patientID, recording)
		if err != nil {
			c.broadcast(patientID, source, StatusFailed)
			return fmt.Errorf("transcribe recording: %w", err)
		}

		docName := TranscriptName(source)
		if doc, err = c.load(ctx, patientID, docName); err != nil {
			c.logger.Warn("stored transcript unavailable, using returned text", "patient_id", patientID, "file", docName, "error", err)
			doc = transcribe.FromText(text)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("recording transcribed", "patient_id", patientID, "bytes", len(recording), "segments", len(doc.Segments))
	c.broadcast(patientID, source, StatusTranscribed)
	c.refresh(ctx, patientID)
	return doc, nil
}

// TranscriptName is the document a recording's transcription produces.
func TranscriptName(recording string) string {
	return strings.TrimSuffix(recording, path.Ext(recording)) + ".json"
}

// load fetches and parses a transcript through a fresh listing; URLs are
// never reused across listings.
func (c *Controller) load(ctx context.Context, patientID, fileName string) (*transcribe.Document, error) {
	listing, err := c.gw.ListArtifacts(ctx, patientID, fileName)
	if err != nil {
		return nil, err
	}
	if !listing.Exists || len(listing.Artifacts) == 0 {
		return nil, fmt.Errorf("transcript %s: %w", fileName, gateway.ErrNotFound)
	}

	var artifact *gateway.Artifact
	for i := range listing.Artifacts {
		if listing.Artifacts[i].FileName == fileName {
			artifact = &listing.Artifacts[i]
			break
		}
	}
	if artifact == nil {
		return nil, fmt.Errorf("transcript %s: %w", fileName, gateway.ErrNotFound)
	}

	raw, err := c.gw.Fetch(ctx, artifact.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript %s: %w", fileName, err)
	}
	return transcribe.Parse(raw)
}

// SelectTranscript opens a transcript of the current patient and returns its
// editable display text.
func (c *Controller) SelectTranscript(ctx context.Context, fileName string) (string, error) {
	patientID, err := c.currentPatient()
	if err != nil {
		return "", err
	}
	if gateway.KindOf(fileName) != gateway.KindTranscript {
		return "", fmt.Errorf("%w: %s", ErrNotTranscript, fileName)
	}

	doc, err := c.load(ctx, patientID, fileName)
	if err != nil {
		return "", err
	}
	display := doc.DisplayText()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patientID != patientID {
		return "", fmt.Errorf("%w: patient changed while loading", ErrNoPatient)
	}
	c.selected = &Selection{PatientID: patientID, FileName: fileName, Document: doc, DisplayText: display}
	return display, nil
}

// Selected returns the open transcript, if any.
func (c *Controller) Selected() (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return Selection{}, false
	}
	return *c.selected, true
}

// Save parses edited display text back into the transcript's segments and
// overwrites the stored document. Edits that cannot be mapped onto the
// original segments fail with transcribe.ErrMalformedTranscriptEdit and
// nothing is uploaded.
func (c *Controller) Save(ctx context.Context, fileName, displayText string) error {
	patientID, err := c.currentPatient()
	if err != nil {
		return err
	}

	release, err := c.guard.Acquire(patientID, "save transcript")
	if err != nil {
		return err
	}
	defer release()

	original := c.selectedDocument(patientID, fileName)
	if original == nil {
		if original, err = c.load(ctx, patientID, fileName); err != nil {
			return err
		}
	}

	edited, err := original.ApplyEdit(displayText)
	if err != nil {
		return err
	}

	if err := c.gw.Upload(ctx, gateway.UploadRequest{
		PatientID:   patientID,
		FileName:    fileName,
		Data:        edited.Raw(),
		ContentType: gateway.ContentTypeFor(fileName),
		Overwrite:   true,
	}); err != nil {
		return fmt.Errorf("save transcript %s: %w", fileName, err)
	}

	c.mu.Lock()
	if c.patientID == patientID {
		c.selected = &Selection{PatientID: patientID, FileName: fileName, Document: edited, DisplayText: edited.DisplayText()}
	}
	c.mu.Unlock()

	c.logger.Info("transcript saved", "patient_id", patientID, "file", fileName, "segments", len(edited.Segments))
	c.broadcast(patientID, fileName, StatusSaved)
	c.refresh(ctx, patientID)
	return nil
}

// Delete removes a transcript of the current patient. A file that is already
// gone counts as deleted.
func (c *Controller) Delete(ctx context.Context, fileName string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	patientID, err := c.currentPatient()
	if err != nil {
		return err
	}

	err = c.guard.Do(patientID, "delete transcript", func() error {
		err := c.gw.DeleteArtifact(ctx, patientID, fileName)
		if err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return fmt.Errorf("delete transcript %s: %w", fileName, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.selected != nil && c.selected.PatientID == patientID && c.selected.FileName == fileName {
		c.selected = nil
	}
	c.transcripts = without(c.transcripts, fileName)
	c.mu.Unlock()

	c.broadcast(patientID, fileName, StatusDeleted)
	c.refresh(ctx, patientID)
	return nil
}

// refresh re-lists the session if patientID is still the one being worked on.
func (c *Controller) refresh(ctx context.Context, patientID string) {
	if c.session == nil {
		return
	}
	c.mu.Lock()
	current := c.patientID
	c.mu.Unlock()
	if current != patientID {
		return
	}
	if err := c.session.Refresh(ctx); err != nil {
		c.logger.Warn("refresh session after transcript change", "patient_id", patientID, "error", err)
	}
}

// PatientSwitched drops everything loaded for the previous patient.
func (c *Controller) PatientSwitched(_, next string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patientID == next {
		return
	}
	c.patientID = next
	c.reset()
}

// PatientDeleted drops references to a deleted patient.
func (c *Controller) PatientDeleted(patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patientID != patientID && (c.selected == nil || c.selected.PatientID != patientID) {
		return
	}
	c.patientID = ""
	c.reset()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		PatientID:   c.patientID,
		Recordings:  append([]gateway.Artifact(nil), c.recordings...),
		Transcripts: append([]gateway.Artifact(nil), c.transcripts...),
	}
	if c.selected != nil {
		snap.Selected = c.selected.FileName
	}
	prefix := c.patientID + "/"
	for key := range c.waiters {
		if name, ok := strings.CutPrefix(key, prefix); ok {
			snap.Pending = append(snap.Pending, name)
		}
	}
	slices.Sort(snap.Pending)
	return snap
}

func (c *Controller) reset() {
	c.recordings = nil
	c.transcripts = nil
	c.selected = nil
}

func (c *Controller) currentPatient() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patientID == "" {
		return "", ErrNoPatient
	}
	return c.patientID, nil
}

func (c *Controller) selectedDocument(patientID, fileName string) *transcribe.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil || c.selected.PatientID != patientID || c.selected.FileName != fileName {
		return nil
	}
	return c.selected.Document
}

func (c *Controller) broadcast(patientID, fileName, status string) {
	if c.hub != nil {
		c.hub.BroadcastTranscriptStatus(patientID, fileName, status)
	}
}

func without(artifacts []gateway.Artifact, fileName string) []gateway.Artifact {
	out := artifacts[:0:0]
	for _, a := range artifacts {
		if a.FileName != fileName {
			out = append(out, a)
		}
	}
	return out
}
