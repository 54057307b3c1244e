package server

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventSerialization(t *testing.T) {
	events := []any{
		SessionChangedEvent{Event: newEvent("session_changed", time.Unix(1, 0)), PatientID: "1607", State: "newPatient"},
		RecordingStateEvent{Event: newEvent("recording_state", time.Unix(1, 0)), PatientID: "1607", State: "recording", Elapsed: 3},
		LiveTranscriptEvent{Event: newEvent("live_transcript", time.Unix(1, 0)), Speaker: "spk_1", Text: "hello", StartTime: 0.1, EndTime: 1.2},
		TranscriptStatusEvent{Event: newEvent("transcript_status", time.Unix(1, 0)), PatientID: "1607", FileName: "1607.json", Status: "saved"},
		SummaryReadyEvent{Event: newEvent("summary_ready", time.Unix(1, 0)), PatientID: "1607", Summary: "ok"},
	}

	for _, event := range events {
		b, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var payload map[string]any
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}

		if payload["type"] == nil {
			t.Fatalf("missing type in payload: %s", string(b))
		}
		if payload["version"] != float64(EventVersion) {
			t.Fatalf("missing version in payload: %s", string(b))
		}
		if payload["timestamp"] == nil {
			t.Fatalf("missing timestamp in payload: %s", string(b))
		}
	}
}
