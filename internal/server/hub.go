package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/intake/internal/transcribe"
)

// Hub fans events out to every subscriber. Slow subscribers miss messages
// rather than block the publisher.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "hub"),
		clients: make(map[chan []byte]struct{}),
	}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSessionChanged(patientID, state, status string) {
	h.broadcastEvent(SessionChangedEvent{
		Event:     newEvent("session_changed", time.Now().UTC()),
		PatientID: patientID,
		State:     state,
		Status:    status,
	})
}

func (h *Hub) BroadcastRecordingState(patientID, state string, elapsed time.Duration) {
	h.broadcastEvent(RecordingStateEvent{
		Event:     newEvent("recording_state", time.Now().UTC()),
		PatientID: patientID,
		State:     state,
		Elapsed:   elapsed.Seconds(),
	})
}

func (h *Hub) BroadcastLiveTranscript(recordingID string, seg transcribe.Segment) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:       newEvent("live_transcript", seg.Timestamp),
		RecordingID: recordingID,
		Speaker:     seg.Speaker,
		Text:        seg.Text,
		StartTime:   seg.StartTime,
		EndTime:     seg.EndTime,
	})
}

func (h *Hub) BroadcastLiveTranscriptInterim(recordingID, speaker, text string, startTime float64) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:       newEvent("live_transcript", time.Now().UTC()),
		RecordingID: recordingID,
		Speaker:     speaker,
		Text:        text,
		StartTime:   startTime,
		Interim:     true,
	})
}

func (h *Hub) BroadcastTranscriptStatus(patientID, fileName, status string) {
	h.broadcastEvent(TranscriptStatusEvent{
		Event:     newEvent("transcript_status", time.Now().UTC()),
		PatientID: patientID,
		FileName:  fileName,
		Status:    status,
	})
}

func (h *Hub) BroadcastSummaryReady(patientID, summary, status, preset string) {
	h.broadcastEvent(SummaryReadyEvent{
		Event:     newEvent("summary_ready", time.Now().UTC()),
		PatientID: patientID,
		Summary:   summary,
		Status:    status,
		Preset:    preset,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}
