package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ArtifactMetadata is derived metadata for a remote artifact. Duration and
// PageCount are nil when unknown. An entry is only valid for the size and
// modification time it was computed from.
type ArtifactMetadata struct {
	PatientID    string
	FileName     string
	SizeBytes    int64
	LastModified time.Time
	Duration     *time.Duration
	PageCount    *int
	UpdatedAt    time.Time
}

func (s *SQLiteStore) PutArtifactMetadata(m ArtifactMetadata) error {
	var duration, pages sql.NullInt64
	if m.Duration != nil {
		duration = sql.NullInt64{Int64: m.Duration.Milliseconds(), Valid: true}
	}
	if m.PageCount != nil {
		pages = sql.NullInt64{Int64: int64(*m.PageCount), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO artifact_metadata(patient_id, file_name, size_bytes, last_modified, duration_ms, page_count, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(patient_id, file_name) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			last_modified = excluded.last_modified,
			duration_ms = excluded.duration_ms,
			page_count = excluded.page_count,
			updated_at = excluded.updated_at`,
		m.PatientID,
		m.FileName,
		m.SizeBytes,
		formatTime(m.LastModified),
		duration,
		pages,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("store metadata for %s/%s: %w", m.PatientID, m.FileName, err)
	}
	return nil
}

// ArtifactMetadata returns cached metadata when it was computed for the same
// size and modification time. A stale or missing entry reports false.
func (s *SQLiteStore) ArtifactMetadata(patientID, fileName string, sizeBytes int64, lastModified time.Time) (ArtifactMetadata, bool, error) {
	row := s.db.QueryRow(
		`SELECT size_bytes, last_modified, duration_ms, page_count, updated_at
		 FROM artifact_metadata WHERE patient_id = ? AND file_name = ?`,
		patientID,
		fileName,
	)

	m := ArtifactMetadata{PatientID: patientID, FileName: fileName}
	var modified, updated string
	var duration, pages sql.NullInt64
	if err := row.Scan(&m.SizeBytes, &modified, &duration, &pages, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ArtifactMetadata{}, false, nil
		}
		return ArtifactMetadata{}, false, fmt.Errorf("query metadata for %s/%s: %w", patientID, fileName, err)
	}

	var err error
	if m.LastModified, err = parseTime(modified); err != nil {
		return ArtifactMetadata{}, false, fmt.Errorf("parse metadata last_modified: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return ArtifactMetadata{}, false, fmt.Errorf("parse metadata updated_at: %w", err)
	}
	if m.SizeBytes != sizeBytes || !m.LastModified.Equal(lastModified.UTC()) {
		return ArtifactMetadata{}, false, nil
	}

	if duration.Valid {
		d := time.Duration(duration.Int64) * time.Millisecond
		m.Duration = &d
	}
	if pages.Valid {
		n := int(pages.Int64)
		m.PageCount = &n
	}
	return m, true, nil
}
