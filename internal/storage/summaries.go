package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	SummaryPending   = "pending"
	SummaryRunning   = "running"
	SummaryCompleted = "completed"
	SummaryFailed    = "failed"
)

type Summary struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Preset    string    `json:"preset"`
	Status    string    `json:"status"`
	Summary   string    `json:"summary"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateSummary inserts a pending summary row and returns its id.
func (s *SQLiteStore) CreateSummary(patientID, preset string) (string, error) {
	id := uuid.NewString()
	now := formatTime(s.now())
	_, err := s.db.Exec(
		`INSERT INTO summaries(id, patient_id, preset, status, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?)`,
		id,
		patientID,
		preset,
		SummaryPending,
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("create summary for patient %s: %w", patientID, err)
	}
	return id, nil
}

func (s *SQLiteStore) UpdateSummary(id, summary, status, preset, errText string) error {
	res, err := s.db.Exec(
		`UPDATE summaries SET summary = ?, status = ?, preset = COALESCE(NULLIF(?, ''), preset), error = ?, updated_at = ? WHERE id = ?`,
		summary,
		status,
		preset,
		errText,
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update summary %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update summary rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const summaryColumns = `s.id, s.patient_id, s.preset, s.status, s.summary, s.error, s.created_at, s.updated_at`

// LatestSummary returns the newest summary for a patient.
func (s *SQLiteStore) LatestSummary(patientID string) (Summary, bool, error) {
	row := s.db.QueryRow(
		`SELECT `+summaryColumns+`
		 FROM summaries s WHERE s.patient_id = ?
		 ORDER BY s.created_at DESC, s.rowid DESC LIMIT 1`,
		patientID,
	)
	sum, ok, err := scanSummary(row)
	if err != nil {
		return Summary{}, false, fmt.Errorf("query latest summary for patient %s: %w", patientID, err)
	}
	return sum, ok, nil
}

// SummaryForRequest returns the summary attached to a claimed prompt hash.
// It reports false when the claim has no summary yet.
func (s *SQLiteStore) SummaryForRequest(patientID, promptHash string) (Summary, bool, error) {
	row := s.db.QueryRow(
		`SELECT `+summaryColumns+`
		 FROM summary_requests r JOIN summaries s ON s.id = r.summary_id
		 WHERE r.patient_id = ? AND r.prompt_hash = ?`,
		patientID,
		promptHash,
	)
	sum, ok, err := scanSummary(row)
	if err != nil {
		return Summary{}, false, fmt.Errorf("query summary request for patient %s: %w", patientID, err)
	}
	return sum, ok, nil
}

func scanSummary(row *sql.Row) (Summary, bool, error) {
	var sum Summary
	var created, updated string
	if err := row.Scan(&sum.ID, &sum.PatientID, &sum.Preset, &sum.Status, &sum.Summary, &sum.Error, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{}, false, nil
		}
		return Summary{}, false, err
	}

	var err error
	if sum.CreatedAt, err = parseTime(created); err != nil {
		return Summary{}, false, fmt.Errorf("parse summary created_at: %w", err)
	}
	if sum.UpdatedAt, err = parseTime(updated); err != nil {
		return Summary{}, false, fmt.Errorf("parse summary updated_at: %w", err)
	}
	return sum, true, nil
}

// ClaimSummaryRequest records a prompt hash for a patient. It reports false
// when the same prompt was already claimed.
func (s *SQLiteStore) ClaimSummaryRequest(patientID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO summary_requests(patient_id, prompt_hash) VALUES(?, ?)`,
		patientID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim summary request for patient %s: %w", patientID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim summary rows affected: %w", err)
	}

	return rows > 0, nil
}

// AttachSummaryRequest points a claimed prompt hash at the summary row that
// answers it. A claim taken over from an abandoned run is re-pointed.
func (s *SQLiteStore) AttachSummaryRequest(patientID, promptHash, summaryID string) error {
	res, err := s.db.Exec(
		`UPDATE summary_requests SET summary_id = ? WHERE patient_id = ? AND prompt_hash = ?`,
		summaryID,
		patientID,
		promptHash,
	)
	if err != nil {
		return fmt.Errorf("attach summary request for patient %s: %w", patientID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach summary rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReleaseSummaryRequest forgets a claim so a failed request can be retried.
func (s *SQLiteStore) ReleaseSummaryRequest(patientID, promptHash string) error {
	if _, err := s.db.Exec(
		`DELETE FROM summary_requests WHERE patient_id = ? AND prompt_hash = ?`,
		patientID,
		promptHash,
	); err != nil {
		return fmt.Errorf("release summary request for patient %s: %w", patientID, err)
	}
	return nil
}
