package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/docker/go-units"

	"github.com/sjawhar/intake/internal/audio"
	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/render"
	"github.com/sjawhar/intake/internal/storage"
)

// UploadDocument stores data as the patient's intake PDF, replacing any
// previous one, and refreshes the artifact list.
func (m *Manager) UploadDocument(ctx context.Context, data []byte) (string, error) {
	if !render.IsPDF(data) {
		m.setStatus(m.catalog.Status(StatusUnsupported))
		return "", fmt.Errorf("%w: not a pdf", ErrUnsupportedFile)
	}
	return m.upload(ctx, ".pdf", "application/pdf", data, nil)
}

// audioExtensions are the formats of the single audio slot.
var audioExtensions = []string{".mp4", ".mp3"}

// UploadAudio stores an mp4 or mp3 recording in the patient's audio slot. A
// recording stored under the other extension is removed afterwards.
func (m *Manager) UploadAudio(ctx context.Context, data []byte, contentType string) (string, error) {
	ext := gateway.ExtensionFor(contentType)
	if !slices.Contains(audioExtensions, ext) {
		m.setStatus(m.catalog.Status(StatusUnsupported))
		return "", fmt.Errorf("%w: content type %q", ErrUnsupportedFile, contentType)
	}
	var replaced []string
	for _, other := range audioExtensions {
		if other != ext {
			replaced = append(replaced, other)
		}
	}
	return m.upload(ctx, ext, contentType, data, replaced)
}

// UploadRecording uploads the local recording waiting for the current patient
// and releases it once the upload succeeded.
func (m *Manager) UploadRecording(ctx context.Context) (string, error) {
	m.mu.Lock()
	blob, owner, patientID := m.candidate, m.candidateOf, m.patientID
	m.mu.Unlock()

	if blob == nil || blob.Released() || owner != patientID {
		return "", ErrNoCandidate
	}
	data, err := blob.Bytes()
	if err != nil {
		return "", fmt.Errorf("read recording: %w", err)
	}

	name, err := m.UploadAudio(ctx, data, blob.ContentType)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.candidate == blob {
		m.candidate = nil
		m.candidateOf = ""
	}
	m.mu.Unlock()
	if err := blob.Release(); err != nil {
		m.logger.Warn("release uploaded recording", "recording_id", blob.ID, "error", err)
	}
	return name, nil
}

// upload writes the canonical slot for ext, then deletes the canonical names
// for the replaced extensions.
func (m *Manager) upload(ctx context.Context, ext, contentType string, data []byte, replaced []string) (string, error) {
	m.mu.Lock()
	patientID, state := m.patientID, m.state
	m.mu.Unlock()

	if patientID == "" {
		return "", ErrNoPatient
	}
	if !state.existing() {
		return "", fmt.Errorf("%w: upload while %s", ErrInvalidState, state)
	}
	if len(data) == 0 {
		m.setStatus(m.catalog.Status(StatusUnsupported))
		return "", fmt.Errorf("%w: empty file", ErrUnsupportedFile)
	}
	if m.maxUpload > 0 && int64(len(data)) > m.maxUpload {
		limit := units.HumanSize(float64(m.maxUpload))
		m.setStatus(m.catalog.Status(StatusTooLarge, limit))
		return "", fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, units.HumanSize(float64(len(data))), limit)
	}

	name := gateway.CanonicalName(patientID, ext)
	release, err := m.guard.Acquire(patientID, "upload "+name)
	if err != nil {
		m.fail(patientID, "upload", err)
		return "", err
	}
	defer release()

	err = m.gw.Upload(ctx, gateway.UploadRequest{
		PatientID:   patientID,
		FileName:    name,
		Data:        data,
		ContentType: contentType,
		Overwrite:   true,
	})
	if err != nil {
		m.fail(patientID, "upload", err)
		return "", err
	}

	m.logger.Info("artifact uploaded", "patient_id", patientID, "file", name, "bytes", len(data))
	m.record(patientID, "upload", state, storage.OutcomeOK, name)

	for _, other := range replaced {
		old := gateway.CanonicalName(patientID, other)
		err := m.gw.DeleteArtifact(ctx, patientID, old)
		switch {
		case err == nil:
			m.logger.Info("replaced artifact removed", "patient_id", patientID, "file", old)
		case !errors.Is(err, gateway.ErrNotFound):
			m.logger.Warn("remove replaced artifact", "patient_id", patientID, "file", old, "error", err)
		}
	}
	m.afterChange(ctx, patientID, m.catalog.Status(StatusUploaded, name))
	return name, nil
}

// DeleteArtifactFile removes one artifact of the given kind. A file that is
// already gone counts as deleted.
func (m *Manager) DeleteArtifactFile(ctx context.Context, fileName string, kind gateway.Kind, confirmed bool) error {
	m.mu.Lock()
	patientID, state := m.patientID, m.state
	m.mu.Unlock()

	if patientID == "" {
		return ErrNoPatient
	}
	if !state.existing() {
		return fmt.Errorf("%w: delete file while %s", ErrInvalidState, state)
	}
	if fileName == "" || (kind != "" && gateway.KindOf(fileName) != kind) {
		return fmt.Errorf("%w: %q is not a %s file", ErrUnsupportedFile, fileName, kind)
	}
	if !confirmed {
		return ErrConfirmationRequired
	}

	release, err := m.guard.Acquire(patientID, "delete "+fileName)
	if err != nil {
		m.fail(patientID, "delete file", err)
		return err
	}
	defer release()

	if err := m.gw.DeleteArtifact(ctx, patientID, fileName); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		m.fail(patientID, "delete file", err)
		return err
	}

	m.logger.Info("artifact deleted", "patient_id", patientID, "file", fileName)
	m.record(patientID, "delete file", state, storage.OutcomeOK, fileName)
	m.afterChange(ctx, patientID, m.catalog.Status(StatusFileDeleted, fileName))
	return nil
}

// afterChange refreshes after a successful mutation. When the refresh fails
// its error status is kept.
func (m *Manager) afterChange(ctx context.Context, patientID string, status Status) {
	if err := m.resolve(ctx, patientID, true); err != nil {
		if !errors.Is(err, ErrSuperseded) {
			m.logger.Warn("refresh after change failed", "patient_id", patientID, "error", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.patientID == patientID {
		m.status = status
		m.broadcastLocked()
	}
}

// SetCandidate records a finished local recording for patientID. The
// recording controller keeps ownership until the upload releases it.
func (m *Manager) SetCandidate(patientID string, blob *audio.Blob) {
	if blob == nil {
		return
	}
	if m.journal != nil {
		if err := m.journal.LinkRecording(blob.ID, patientID); err != nil {
			m.logger.Warn("link recording", "recording_id", blob.ID, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidate = blob
	m.candidateOf = patientID
	m.broadcastLocked()
}

// HasAudio reports whether the resolved patient already has remote audio.
func (m *Manager) HasAudio(patientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return patientID != "" && patientID == m.patientID && len(m.artifacts.Audio) > 0
}
