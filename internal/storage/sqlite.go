package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the local journal: operation history, cached artifact
// metadata, live caption drafts and generated summaries.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "intake.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

var schema = []struct {
	name string
	stmt string
}{
	{"operations table", `
		CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`},
	{"artifact_metadata table", `
		CREATE TABLE IF NOT EXISTS artifact_metadata (
			patient_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			last_modified TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER,
			page_count INTEGER,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(patient_id, file_name)
		);`},
	{"recordings table", `
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`},
	{"draft_segments table", `
		CREATE TABLE IF NOT EXISTS draft_segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			start_time REAL NOT NULL,
			end_time REAL NOT NULL,
			timestamp TEXT NOT NULL
		);`},
	{"summaries table", `
		CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			preset TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`},
	{"summary_requests table", `
		CREATE TABLE IF NOT EXISTS summary_requests (
			patient_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			summary_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(patient_id, prompt_hash)
		);`},
	{"operations index", "CREATE INDEX IF NOT EXISTS idx_operations_patient ON operations(patient_id, created_at)"},
	{"draft_segments index", "CREATE INDEX IF NOT EXISTS idx_draft_segments_recording ON draft_segments(recording_id, id)"},
	{"summaries index", "CREATE INDEX IF NOT EXISTS idx_summaries_patient ON summaries(patient_id, created_at)"},
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	for _, step := range schema {
		if _, err := s.db.Exec(step.stmt); err != nil {
			return fmt.Errorf("create %s: %w", step.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// PurgePatient removes everything cached for a deleted patient. The
// operation history is kept.
func (s *SQLiteStore) PurgePatient(patientID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin purge for patient %s: %w", patientID, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DELETE FROM draft_segments WHERE recording_id IN (SELECT id FROM recordings WHERE patient_id = ?)`,
		`DELETE FROM recordings WHERE patient_id = ?`,
		`DELETE FROM artifact_metadata WHERE patient_id = ?`,
		`DELETE FROM summaries WHERE patient_id = ?`,
		`DELETE FROM summary_requests WHERE patient_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, patientID); err != nil {
			return fmt.Errorf("purge patient %s: %w", patientID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purge for patient %s: %w", patientID, err)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
