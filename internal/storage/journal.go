package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeStale    = "stale"
)

// Operation is one journaled state transition of a patient session.
type Operation struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordOperation appends op to the journal, assigning an id and timestamp
// when they are empty.
func (s *SQLiteStore) RecordOperation(op Operation) (Operation, error) {
	if strings.TrimSpace(op.Kind) == "" {
		return Operation{}, errors.New("operation kind is required")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.now()
	}
	if op.Outcome == "" {
		op.Outcome = OutcomeOK
	}

	_, err := s.db.Exec(
		`INSERT INTO operations(id, patient_id, kind, state, outcome, detail, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		op.ID,
		op.PatientID,
		op.Kind,
		op.State,
		op.Outcome,
		op.Detail,
		formatTime(op.CreatedAt),
	)
	if err != nil {
		return Operation{}, fmt.Errorf("record %s operation for patient %s: %w", op.Kind, op.PatientID, err)
	}
	return op, nil
}

// Operations returns the newest operations for a patient, newest first. An
// empty patientID returns operations for all patients.
func (s *SQLiteStore) Operations(patientID string, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, patient_id, kind, state, outcome, detail, created_at FROM operations`
	args := []any{}
	if patientID != "" {
		query += ` WHERE patient_id = ?`
		args = append(args, patientID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations for patient %s: %w", patientID, err)
	}
	defer func() { _ = rows.Close() }()

	ops := make([]Operation, 0, limit)
	for rows.Next() {
		var op Operation
		var created string
		if err := rows.Scan(&op.ID, &op.PatientID, &op.Kind, &op.State, &op.Outcome, &op.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if op.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse operation %s created_at: %w", op.ID, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation rows: %w", err)
	}
	return ops, nil
}
