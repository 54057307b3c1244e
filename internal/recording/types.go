package recording

import (
	"context"
	"io"
	"time"

	"github.com/sjawhar/intake/internal/audio"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// Device is an exclusive capture stream producing PCM16-LE mono. Stream
// blocks until Stop is called or the device fails.
type Device interface {
	Start() error
	Stop() error
	Close() error
	Stream(w io.Writer) error
}

// Opener acquires the capture device and reports the sample rate it opened at.
type Opener func() (Device, int, error)

// Encoder spools and encodes captured PCM. audio.Recorder implements it.
type Encoder interface {
	CheckEncoder() error
	SetSampleRate(sampleRate int)
	StartSession(recordID string) error
	Writer(dst io.Writer) io.Writer
	SetPaused(paused bool)
	EndSession() (*audio.Blob, error)
	Abort()
}

// PriorArtifacts reports whether a patient already has a stored recording.
type PriorArtifacts interface {
	HasAudio(patientID string) bool
}

// CandidateSink receives the recording produced by a successful Stop.
type CandidateSink interface {
	SetCandidate(patientID string, blob *audio.Blob)
}

// Captions opens a live caption stream fed with the same PCM as the recording.
type Captions interface {
	Start(ctx context.Context, recordingID string, sampleRate int) (CaptionStream, error)
}

type CaptionStream interface {
	io.Writer
	Close()
}

type EventBroadcaster interface {
	BroadcastRecordingState(patientID, state string, elapsed time.Duration)
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State       State         `json:"state"`
	PatientID   string        `json:"patient_id,omitempty"`
	RecordingID string        `json:"recording_id,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Blob        *BlobInfo     `json:"blob,omitempty"`
}

type BlobInfo struct {
	ID          string        `json:"id"`
	Path        string        `json:"path"`
	ContentType string        `json:"content_type"`
	Size        int64         `json:"size"`
	Duration    time.Duration `json:"duration"`
}
