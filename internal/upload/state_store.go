package upload

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/syftupload/internal/utils"
)

// StateEntry is the persisted recovery state of one file
type StateEntry struct {
	Path               string       `json:"path"`
	SessionID          string       `json:"sessionId,omitempty"`
	FileID             string       `json:"fileId"`
	UploadID           string       `json:"uploadId"`
	FileSize           int64        `json:"fileSize"`
	PartSize           int64        `json:"partSize"`
	TotalParts         int          `json:"totalParts"`
	UploadedPartsCount int          `json:"uploadedPartsCount"`
	ProgressPercent    float64      `json:"progressPercent"`
	Parts              []PartRecord `json:"parts,omitempty"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// StateStore persists StateEntry values keyed by case-insensitive file path.
// Load never fails: unreadable storage yields an empty map.
type StateStore interface {
	Load() map[string]*StateEntry
	Save(entries map[string]*StateEntry) error
	Get(path string) (*StateEntry, bool)
	Upsert(path string, entry *StateEntry) error
	Remove(path string) error
	Close() error
}

// EntryFromJob snapshots a job for persistence
func EntryFromJob(job *Job) *StateEntry {
	return &StateEntry{
		Path:               job.FilePath,
		SessionID:          job.SessionID,
		FileID:             job.FileID,
		UploadID:           job.UploadID,
		FileSize:           job.FileSize,
		PartSize:           job.PartSize,
		TotalParts:         job.TotalParts,
		UploadedPartsCount: job.PartCount(),
		ProgressPercent:    job.ProgressPercent(),
		Parts:              job.Parts(),
		UpdatedAt:          time.Now().UTC(),
	}
}

// JobFromEntry rebuilds a job from its persisted state. Parts are hints only
// until the remote list has been reconciled.
func JobFromEntry(path string, entry *StateEntry) *Job {
	job := NewJob(path, entry.FileSize, entry.PartSize)
	job.SessionID = entry.SessionID
	job.FileID = entry.FileID
	job.UploadID = entry.UploadID
	job.SetParts(entry.Parts)
	if job.FileID != "" {
		job.Status = StatusRegistered
	}
	return job
}

func cloneEntry(e *StateEntry) *StateEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Parts = append([]PartRecord(nil), e.Parts...)
	return &c
}

func cloneEntries(m map[string]*StateEntry) map[string]*StateEntry {
	out := make(map[string]*StateEntry, len(m))
	for k, v := range m {
		out[k] = cloneEntry(v)
	}
	return out
}

// ===================================================================================================

// JSONStateStore keeps every entry in a single JSON document that is rewritten
// atomically on each change. A sidecar lock file serializes writers across processes.
type JSONStateStore struct {
	path    string
	lock    *flock.Flock
	mu      sync.Mutex
	entries map[string]*StateEntry
	logger  *slog.Logger
}

func NewJSONStateStore(path string, logger *slog.Logger) (*JSONStateStore, error) {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state path: %w", err)
	}
	if err := utils.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &JSONStateStore{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger.With("component", "state-store", "backend", "json"),
	}
	s.entries = s.readFile()
	return s, nil
}

// Load re-reads the document from disk and returns a copy of its entries
func (s *JSONStateStore) Load() map[string]*StateEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = s.readFile()
	return cloneEntries(s.entries)
}

func (s *JSONStateStore) Save(entries map[string]*StateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*StateEntry, len(entries))
	for path, e := range entries {
		next[utils.PathKey(path)] = cloneEntry(e)
	}
	if err := s.writeFile(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

func (s *JSONStateStore) Get(path string) (*StateEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[utils.PathKey(path)]
	return cloneEntry(e), ok
}

func (s *JSONStateStore) Upsert(path string, entry *StateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneEntries(s.entries)
	next[utils.PathKey(path)] = cloneEntry(entry)
	if err := s.writeFile(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

func (s *JSONStateStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := utils.PathKey(path)
	if _, ok := s.entries[key]; !ok {
		return nil
	}

	next := cloneEntries(s.entries)
	delete(next, key)
	if err := s.writeFile(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

func (s *JSONStateStore) Close() error {
	return s.lock.Close()
}

func (s *JSONStateStore) readFile() map[string]*StateEntry {
	entries := make(map[string]*StateEntry)

	if err := s.lock.RLock(); err != nil {
		s.logger.Warn("state lock failed, reading unlocked", "error", err)
	} else {
		defer s.lock.Unlock()
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("state unreadable, starting empty", "path", s.path, "error", err)
		}
		return entries
	}
	if len(data) == 0 {
		return entries
	}

	var doc map[string]*StateEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("state corrupt, starting empty", "path", s.path, "error", err)
		return entries
	}

	for path, e := range doc {
		if e == nil {
			continue
		}
		entries[utils.PathKey(path)] = e
	}
	return entries
}

func (s *JSONStateStore) writeFile(entries map[string]*StateEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock state: %w", err)
	}
	defer s.lock.Unlock()

	if err := utils.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// ===================================================================================================

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

var ErrUnknownBackend = errors.New("upload: unknown state backend")

// OpenStateStore opens the store for the configured backend
func OpenStateStore(backend, path string, logger *slog.Logger) (StateStore, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONStateStore(path, logger)
	case BackendSQLite:
		return NewSQLiteStateStore(path, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
