package storage

import (
	"fmt"
	"strings"

	"github.com/sjawhar/intake/internal/transcribe"
)

// LinkRecording ties a local recording id to the patient it was captured for.
func (s *SQLiteStore) LinkRecording(recordingID, patientID string) error {
	_, err := s.db.Exec(
		`INSERT INTO recordings(id, patient_id, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET patient_id = excluded.patient_id`,
		recordingID,
		patientID,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("link recording %s to patient %s: %w", recordingID, patientID, err)
	}
	return nil
}

// AppendDraftSegment journals a final live caption segment.
func (s *SQLiteStore) AppendDraftSegment(recordingID string, seg transcribe.Segment) error {
	ts := seg.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.Exec(
		`INSERT INTO draft_segments(recording_id, speaker, text, start_time, end_time, timestamp) VALUES(?, ?, ?, ?, ?, ?)`,
		recordingID,
		seg.Speaker,
		strings.TrimSpace(seg.Text),
		seg.StartTime,
		seg.EndTime,
		formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("append draft segment for recording %s: %w", recordingID, err)
	}
	return nil
}

func (s *SQLiteStore) DraftSegments(recordingID string) ([]transcribe.Segment, error) {
	rows, err := s.db.Query(
		`SELECT speaker, text, start_time, end_time, timestamp
		 FROM draft_segments
		 WHERE recording_id = ?
		 ORDER BY id ASC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query draft segments for recording %s: %w", recordingID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]transcribe.Segment, 0, 32)
	for rows.Next() {
		var seg transcribe.Segment
		var ts string
		if err := rows.Scan(&seg.Speaker, &seg.Text, &seg.StartTime, &seg.EndTime, &ts); err != nil {
			return nil, fmt.Errorf("scan draft segment for recording %s: %w", recordingID, err)
		}
		if seg.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse draft segment timestamp for recording %s: %w", recordingID, err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate draft segment rows for recording %s: %w", recordingID, err)
	}
	return segments, nil
}
