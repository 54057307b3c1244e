package session

import (
	"context"
	"time"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/storage"
)

type State string

const (
	StateUnresolved            State = "unresolved"
	StateResolving             State = "resolving"
	StateNewPatient            State = "newPatient"
	StateExistingEmpty         State = "existingPatientEmpty"
	StateExistingWithArtifacts State = "existingPatientWithArtifacts"
	StateError                 State = "error"
)

// Existence is whether the patient folder is known to exist.
type Existence string

const (
	ExistsUnknown  Existence = "unknown"
	ExistsNew      Existence = "newPatient"
	ExistsExisting Existence = "existingPatient"
)

func (s State) Existence() Existence {
	switch s {
	case StateNewPatient:
		return ExistsNew
	case StateExistingEmpty, StateExistingWithArtifacts:
		return ExistsExisting
	default:
		return ExistsUnknown
	}
}

func (s State) existing() bool {
	return s.Existence() == ExistsExisting
}

// Artifact is a remote artifact with best-effort derived metadata. Nil
// metadata means unknown.
type Artifact struct {
	gateway.Artifact
	Duration  *time.Duration `json:"duration,omitempty"`
	PageCount *int           `json:"page_count,omitempty"`
}

// Artifacts partitions a patient's files by kind.
type Artifacts struct {
	PDF        []Artifact `json:"pdf"`
	Audio      []Artifact `json:"audio"`
	Transcript []Artifact `json:"transcript"`
}

func (a Artifacts) Len() int {
	return len(a.PDF) + len(a.Audio) + len(a.Transcript)
}

func (a Artifacts) clone() Artifacts {
	return Artifacts{
		PDF:        append([]Artifact(nil), a.PDF...),
		Audio:      append([]Artifact(nil), a.Audio...),
		Transcript: append([]Artifact(nil), a.Transcript...),
	}
}

func (a Artifacts) all() []Artifact {
	out := make([]Artifact, 0, a.Len())
	out = append(out, a.PDF...)
	out = append(out, a.Audio...)
	return append(out, a.Transcript...)
}

// CandidateInfo describes a local recording waiting for upload.
type CandidateInfo struct {
	RecordingID string        `json:"recording_id"`
	ContentType string        `json:"content_type"`
	Size        int64         `json:"size"`
	Duration    time.Duration `json:"duration"`
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	DraftID     string         `json:"draft_id"`
	PatientID   string         `json:"patient_id"`
	State       State          `json:"state"`
	Exists      Existence      `json:"exists"`
	Registered  bool           `json:"registered"`
	InputLocked bool           `json:"input_locked"`
	Artifacts   Artifacts      `json:"artifacts"`
	Status      Status         `json:"status"`
	Candidate   *CandidateInfo `json:"candidate,omitempty"`
}

type Gateway interface {
	ListArtifacts(ctx context.Context, patientID, pattern string) (gateway.Listing, error)
	Upload(ctx context.Context, req gateway.UploadRequest) error
	CreateFolder(ctx context.Context, patientID string) error
	DeleteArtifact(ctx context.Context, patientID, fileName string) error
}

// Registry is the allowed-identifier list.
type Registry interface {
	Contains(ctx context.Context, patientID string) (bool, error)
	Add(ctx context.Context, patientID string) error
	Remove(ctx context.Context, patientID string) error
}

// Journal records operations and caches derived metadata.
type Journal interface {
	RecordOperation(op storage.Operation) (storage.Operation, error)
	ArtifactMetadata(patientID, fileName string, sizeBytes int64, lastModified time.Time) (storage.ArtifactMetadata, bool, error)
	PutArtifactMetadata(m storage.ArtifactMetadata) error
	LinkRecording(recordingID, patientID string) error
	PurgePatient(patientID string) error
}

// Prober derives metadata from an artifact's fetch URL.
type Prober interface {
	AudioDuration(ctx context.Context, url string) (time.Duration, error)
	PageCount(ctx context.Context, url string) (int, error)
}

type EventBroadcaster interface {
	BroadcastSessionChanged(patientID, state, status string)
}

// Listener is told when the active patient changes or is deleted so it can
// drop anything it holds for that patient.
type Listener interface {
	PatientSwitched(previous, next string)
	PatientDeleted(patientID string)
}
