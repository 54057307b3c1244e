// Package recording drives the local capture lifecycle: idle, recording,
// paused, stopped. It produces at most one live local blob and never uploads.
package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/intake/internal/audio"
)

const streamDrainTimeout = 2 * time.Second

type Options struct {
	Open     Opener
	Encoder  Encoder
	Prior    PriorArtifacts
	Sink     CandidateSink
	Captions Captions
	Hub      EventBroadcaster
	Logger   *slog.Logger
}

type Controller struct {
	open     Opener
	encoder  Encoder
	prior    PriorArtifacts
	sink     CandidateSink
	captions Captions
	hub      EventBroadcaster
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	mu          sync.Mutex
	state       State
	patientID   string
	recordingID string
	device      Device
	streamDone  chan error
	live        CaptionStream
	spanStart   time.Time
	elapsed     time.Duration
	blob        *audio.Blob
	blobPatient string
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		open:     opts.Open,
		encoder:  opts.Encoder,
		prior:    opts.Prior,
		sink:     opts.Sink,
		captions: opts.Captions,
		hub:      opts.Hub,
		logger:   logger.With("component", "recording"),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		state:    StateIdle,
	}
}

// Start acquires the device and begins capturing for patientID. When a
// previous recording exists locally or remotely, confirmed must be true.
func (c *Controller) Start(ctx context.Context, patientID string, confirmed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRecording || c.state == StatePaused {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, c.state)
	}
	if patientID == "" {
		return fmt.Errorf("%w: no patient selected", ErrInvalidTransition)
	}

	hasPrior := c.blob != nil && !c.blob.Released()
	if !hasPrior && c.prior != nil {
		hasPrior = c.prior.HasAudio(patientID)
	}
	if hasPrior && !confirmed {
		return ErrConfirmationRequired
	}

	if c.open == nil || c.encoder == nil {
		return fmt.Errorf("%w: no capture device configured", ErrDeviceUnavailable)
	}
	if err := c.encoder.CheckEncoder(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	device, sampleRate, err := c.open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	recordingID := c.newID()
	c.encoder.SetSampleRate(sampleRate)
	if err := c.encoder.StartSession(recordingID); err != nil {
		_ = device.Close()
		return fmt.Errorf("start recording spool: %w", err)
	}
	if err := device.Start(); err != nil {
		_ = device.Close()
		c.encoder.Abort()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	c.releaseBlobLocked()

	var downstream io.Writer = io.Discard
	c.live = nil
	if c.captions != nil {
		live, err := c.captions.Start(ctx, recordingID, sampleRate)
		if err != nil {
			c.logger.Warn("live captions unavailable", "error", err)
		} else {
			c.live = live
			downstream = bestEffortWriter{w: live}
		}
	}

	done := make(chan error, 1)
	writer := c.encoder.Writer(downstream)
	go func() { done <- device.Stream(writer) }()

	c.state = StateRecording
	c.patientID = patientID
	c.recordingID = recordingID
	c.device = device
	c.streamDone = done
	c.elapsed = 0
	c.spanStart = c.now()

	c.logger.Info("recording started", "patient_id", patientID, "recording_id", recordingID, "sample_rate", sampleRate)
	c.broadcastLocked()
	return nil
}

// Pause keeps the device open and drops samples until Resume.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, c.state)
	}
	c.encoder.SetPaused(true)
	c.elapsed += c.now().Sub(c.spanStart)
	c.state = StatePaused
	c.broadcastLocked()
	return nil
}

func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return fmt.Errorf("%w: resume while %s", ErrInvalidTransition, c.state)
	}
	c.encoder.SetPaused(false)
	c.spanStart = c.now()
	c.state = StateRecording
	c.broadcastLocked()
	return nil
}

// Stop releases the device, encodes the capture and hands the result to the
// candidate sink. The returned blob stays owned by the controller.
func (c *Controller) Stop(ctx context.Context) (*audio.Blob, error) {
	c.mu.Lock()

	if c.state != StateRecording && c.state != StatePaused {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: stop while %s", ErrInvalidTransition, state)
	}
	if c.state == StateRecording {
		c.elapsed += c.now().Sub(c.spanStart)
	}

	c.releaseDeviceLocked(ctx)

	blob, err := c.encoder.EndSession()
	if err != nil {
		c.state = StateIdle
		c.broadcastLocked()
		c.mu.Unlock()
		if errors.Is(err, audio.ErrEncoderUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return nil, fmt.Errorf("finalize recording: %w", err)
	}

	c.state = StateStopped
	c.blob = blob
	c.blobPatient = c.patientID
	patientID := c.patientID
	c.logger.Info("recording stopped", "patient_id", patientID, "elapsed", c.elapsed, "bytes", blobSize(blob))
	c.broadcastLocked()
	c.mu.Unlock()

	if c.sink != nil && blob != nil {
		c.sink.SetCandidate(patientID, blob)
	}
	return blob, nil
}

// Discard tears down any active capture and releases the local blob.
func (c *Controller) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked()
}

// PatientSwitched drops local state that belonged to a different patient.
func (c *Controller) PatientSwitched(previous, next string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patientID != "" && c.patientID != next {
		c.discardLocked()
	}
}

// PatientDeleted drops everything recorded for patientID.
func (c *Controller) PatientDeleted(patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patientID == patientID || c.blobPatient == patientID {
		c.discardLocked()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.elapsed
	if c.state == StateRecording {
		elapsed += c.now().Sub(c.spanStart)
	}

	snap := Snapshot{
		State:       c.state,
		PatientID:   c.patientID,
		RecordingID: c.recordingID,
		Elapsed:     elapsed,
	}
	if c.blob != nil && !c.blob.Released() {
		snap.Blob = &BlobInfo{
			ID:          c.blob.ID,
			Path:        c.blob.Path,
			ContentType: c.blob.ContentType,
			Size:        c.blob.Size,
			Duration:    c.blob.Duration,
		}
	}
	return snap
}

func (c *Controller) discardLocked() {
	if c.state == StateRecording || c.state == StatePaused {
		c.releaseDeviceLocked(context.Background())
		c.encoder.Abort()
	}
	c.releaseBlobLocked()
	c.state = StateIdle
	c.patientID = ""
	c.recordingID = ""
	c.elapsed = 0
	c.broadcastLocked()
}

func (c *Controller) releaseDeviceLocked(ctx context.Context) {
	if c.device == nil {
		return
	}
	if err := c.device.Stop(); err != nil {
		c.logger.Warn("stop capture device", "error", err)
	}

	drain, cancel := context.WithTimeout(ctx, streamDrainTimeout)
	defer cancel()
	select {
	case <-c.streamDone:
	case <-drain.Done():
		c.logger.Warn("capture stream did not drain before close")
	}

	if err := c.device.Close(); err != nil {
		c.logger.Warn("close capture device", "error", err)
	}
	if c.live != nil {
		c.live.Close()
		c.live = nil
	}
	c.device = nil
	c.streamDone = nil
	c.encoder.SetPaused(false)
}

func (c *Controller) releaseBlobLocked() {
	if c.blob == nil {
		return
	}
	if err := c.blob.Release(); err != nil {
		c.logger.Warn("release recording", "error", err)
	}
	c.blob = nil
	c.blobPatient = ""
}

func (c *Controller) broadcastLocked() {
	if c.hub == nil {
		return
	}
	elapsed := c.elapsed
	if c.state == StateRecording {
		elapsed += c.now().Sub(c.spanStart)
	}
	c.hub.BroadcastRecordingState(c.patientID, string(c.state), elapsed)
}

func blobSize(b *audio.Blob) int64 {
	if b == nil {
		return 0
	}
	return b.Size
}

// bestEffortWriter never reports downstream failures so a dropped caption
// connection cannot stop the capture loop.
type bestEffortWriter struct {
	w io.Writer
}

func (b bestEffortWriter) Write(p []byte) (int, error) {
	_, _ = b.w.Write(p)
	return len(p), nil
}
