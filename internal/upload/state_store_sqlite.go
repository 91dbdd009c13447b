package upload

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftupload/internal/db"
	"github.com/openmined/syftupload/internal/utils"
)

const stateSchema = `
CREATE TABLE IF NOT EXISTS upload_state (
    path_key TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    file_id TEXT NOT NULL,
    upload_id TEXT NOT NULL,
    file_size INTEGER NOT NULL,
    part_size INTEGER NOT NULL,
    total_parts INTEGER NOT NULL,
    uploaded_parts_count INTEGER NOT NULL,
    progress_percent REAL NOT NULL,
    parts TEXT NOT NULL DEFAULT '[]', -- JSON array of part records
    updated_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_upload_state_file_id ON upload_state(file_id);
`

// dbStateEntry is the row form of StateEntry
type dbStateEntry struct {
	PathKey            string  `db:"path_key"`
	Path               string  `db:"path"`
	SessionID          string  `db:"session_id"`
	FileID             string  `db:"file_id"`
	UploadID           string  `db:"upload_id"`
	FileSize           int64   `db:"file_size"`
	PartSize           int64   `db:"part_size"`
	TotalParts         int     `db:"total_parts"`
	UploadedPartsCount int     `db:"uploaded_parts_count"`
	ProgressPercent    float64 `db:"progress_percent"`
	Parts              string  `db:"parts"`
	UpdatedAt          string  `db:"updated_at"`
}

func (r *dbStateEntry) toEntry() (*StateEntry, error) {
	var parts []PartRecord
	if r.Parts != "" {
		if err := json.Unmarshal([]byte(r.Parts), &parts); err != nil {
			return nil, fmt.Errorf("decode parts: %w", err)
		}
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)

	return &StateEntry{
		Path:               r.Path,
		SessionID:          r.SessionID,
		FileID:             r.FileID,
		UploadID:           r.UploadID,
		FileSize:           r.FileSize,
		PartSize:           r.PartSize,
		TotalParts:         r.TotalParts,
		UploadedPartsCount: r.UploadedPartsCount,
		ProgressPercent:    r.ProgressPercent,
		Parts:              parts,
		UpdatedAt:          updatedAt,
	}, nil
}

func toRow(path string, e *StateEntry) (*dbStateEntry, error) {
	parts, err := json.Marshal(e.Parts)
	if err != nil {
		return nil, fmt.Errorf("encode parts: %w", err)
	}
	if e.Parts == nil {
		parts = []byte("[]")
	}
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	entryPath := e.Path
	if entryPath == "" {
		entryPath = path
	}

	return &dbStateEntry{
		PathKey:            utils.PathKey(path),
		Path:               entryPath,
		SessionID:          e.SessionID,
		FileID:             e.FileID,
		UploadID:           e.UploadID,
		FileSize:           e.FileSize,
		PartSize:           e.PartSize,
		TotalParts:         e.TotalParts,
		UploadedPartsCount: e.UploadedPartsCount,
		ProgressPercent:    e.ProgressPercent,
		Parts:              string(parts),
		UpdatedAt:          updatedAt.Format(time.RFC3339Nano),
	}, nil
}

const upsertStateSQL = `
INSERT INTO upload_state (path_key, path, session_id, file_id, upload_id, file_size, part_size,
    total_parts, uploaded_parts_count, progress_percent, parts, updated_at)
VALUES (:path_key, :path, :session_id, :file_id, :upload_id, :file_size, :part_size,
    :total_parts, :uploaded_parts_count, :progress_percent, :parts, :updated_at)
ON CONFLICT(path_key) DO UPDATE SET
    path = excluded.path,
    session_id = excluded.session_id,
    file_id = excluded.file_id,
    upload_id = excluded.upload_id,
    file_size = excluded.file_size,
    part_size = excluded.part_size,
    total_parts = excluded.total_parts,
    uploaded_parts_count = excluded.uploaded_parts_count,
    progress_percent = excluded.progress_percent,
    parts = excluded.parts,
    updated_at = excluded.updated_at
`

// SQLiteStateStore keeps one row per file in a local SQLite database
type SQLiteStateStore struct {
	db     *sqlx.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLiteStateStore opens the database at path, ":memory:" works for tests
func NewSQLiteStateStore(path string, logger *slog.Logger) (*SQLiteStateStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		resolved, err := utils.ResolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolve state path: %w", err)
		}
		path = resolved
	}

	logger = logger.With("component", "state-store", "backend", "sqlite")

	conn, err := openStateDB(path, logger)
	if err != nil && path != ":memory:" && isCorruptDB(err) {
		// corrupt state is treated like missing state
		corrupt := path + ".corrupt"
		logger.Warn("state db is corrupt, starting empty", "path", path, "movedTo", corrupt, "error", err)
		if err := os.Rename(path, corrupt); err != nil {
			return nil, fmt.Errorf("move corrupt state db: %w", err)
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			_ = os.Remove(path + suffix)
		}
		conn, err = openStateDB(path, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	return &SQLiteStateStore{
		db:     conn,
		logger: logger,
	}, nil
}

func openStateDB(path string, logger *slog.Logger) (*sqlx.DB, error) {
	return db.NewSqliteDB(
		db.WithPath(path),
		db.WithMaxOpenConns(1),
		db.WithSchema(stateSchema),
		db.WithLogger(logger),
	)
}

// isCorruptDB matches SQLITE_NOTADB and SQLITE_CORRUPT from either driver
func isCorruptDB(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed")
}

func (s *SQLiteStateStore) Load() map[string]*StateEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]*StateEntry)

	var rows []dbStateEntry
	if err := s.db.Select(&rows, `SELECT * FROM upload_state`); err != nil {
		s.logger.Warn("state unreadable, starting empty", "error", err)
		return entries
	}

	for _, row := range rows {
		e, err := row.toEntry()
		if err != nil {
			s.logger.Warn("state row corrupt, skipping", "path", row.Path, "error", err)
			continue
		}
		entries[row.PathKey] = e
	}
	return entries
}

func (s *SQLiteStateStore) Save(entries map[string]*StateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM upload_state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	for path, e := range entries {
		row, err := toRow(path, e)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExec(upsertStateSQL, row); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStateStore) Get(path string) (*StateEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row dbStateEntry
	err := s.db.Get(&row, `SELECT * FROM upload_state WHERE path_key = ?`, utils.PathKey(path))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("state lookup failed", "path", path, "error", err)
		}
		return nil, false
	}

	e, err := row.toEntry()
	if err != nil {
		s.logger.Warn("state row corrupt", "path", path, "error", err)
		return nil, false
	}
	return e, true
}

func (s *SQLiteStateStore) Upsert(path string, entry *StateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := toRow(path, entry)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExec(upsertStateSQL, row); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM upload_state WHERE path_key = ?`, utils.PathKey(path)); err != nil {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}
