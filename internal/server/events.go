package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type SessionChangedEvent struct {
	Event
	PatientID string `json:"patient_id"`
	State     string `json:"state"`
	Status    string `json:"status"`
}

type RecordingStateEvent struct {
	Event
	PatientID string  `json:"patient_id"`
	State     string  `json:"state"`
	Elapsed   float64 `json:"elapsed"`
}

type LiveTranscriptEvent struct {
	Event
	RecordingID string  `json:"recording_id"`
	Speaker     string  `json:"speaker"`
	Text        string  `json:"text"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Interim     bool    `json:"interim,omitempty"`
}

type TranscriptStatusEvent struct {
	Event
	PatientID string `json:"patient_id"`
	FileName  string `json:"file_name"`
	Status    string `json:"status"`
}

type SummaryReadyEvent struct {
	Event
	PatientID string `json:"patient_id"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	Preset    string `json:"preset,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
