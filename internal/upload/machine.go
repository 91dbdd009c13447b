package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftupload/internal/uploadapi"
)

const completeAttempts = 2

var errStaleRemote = errors.New("upload: remote file does not match local plan")

// Progress is reported after hydration, after every stored part and on completion
type Progress struct {
	Percent    float64 `json:"percent" yaml:"percent"`
	SentBytes  int64   `json:"sentBytes" yaml:"sentBytes"`
	FileSize   int64   `json:"fileSize" yaml:"fileSize"`
	PartsDone  int     `json:"partsDone" yaml:"partsDone"`
	TotalParts int     `json:"totalParts" yaml:"totalParts"`
	FileID     string  `json:"fileId,omitempty" yaml:"fileId,omitempty"`
}

type ProgressFunc func(Progress)

func progressOf(job *Job) Progress {
	return Progress{
		Percent:    job.ProgressPercent(),
		SentBytes:  job.SentBytes,
		FileSize:   job.FileSize,
		PartsDone:  job.PartCount(),
		TotalParts: job.TotalParts,
		FileID:     job.FileID,
	}
}

type MachineConfig struct {
	// PartSize for newly registered files, existing entries keep their own
	PartSize int64
	// PartTimeout bounds presign+PUT of a single part, zero means no bound
	PartTimeout time.Duration
}

// Machine drives one file through register, reconcile, part upload and completion
type Machine struct {
	files       FileService
	storage     PartUploader
	sessions    *SessionCoordinator
	store       StateStore
	partSize    int64
	partTimeout time.Duration
	logger      *slog.Logger
}

func NewMachine(files FileService, storage PartUploader, sessions *SessionCoordinator, store StateStore, cfg MachineConfig, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return &Machine{
		files:       files,
		storage:     storage,
		sessions:    sessions,
		store:       store,
		partSize:    partSize,
		partTimeout: cfg.PartTimeout,
		logger:      logger.With("component", "machine"),
	}
}

// Run uploads the file at path for the user. A canceled ctx leaves the file
// resumable at its next missing part; any other error fails this file only.
func (m *Machine) Run(ctx context.Context, userID, path string, progress ProgressFunc) (err error) {
	if progress == nil {
		progress = func(Progress) {}
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	job := m.Hydrate(path, info.Size())
	defer func() {
		if err != nil {
			m.markStopped(ctx, job, err)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sessionID, err := m.sessions.StartOrReuse(ctx, userID)
	if err != nil {
		return err
	}

	if err := m.prepareAndReconcile(ctx, sessionID, job); err != nil {
		return err
	}
	progress(progressOf(job))

	m.logger.Info("upload",
		"path", path,
		"size", humanize.IBytes(uint64(job.FileSize)),
		"parts", job.TotalParts,
		"done", job.PartCount(),
		"fileId", job.FileID,
	)

	job.Status = StatusUploading
	for n := 1; n <= job.TotalParts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		uploaded, err := m.UploadNextPart(ctx, job, f, n)
		if err != nil {
			return err
		}
		if uploaded {
			progress(progressOf(job))
		}
	}
	job.Status = StatusAllPartsUploaded

	if err := m.Finalize(ctx, job); err != nil {
		return err
	}

	progress(progressOf(job))
	m.logger.Info("upload completed", "path", path, "fileId", job.FileID)
	return nil
}

// Hydrate restores the persisted job for path, or plans a new one.
// An entry recorded for a different file size is discarded.
func (m *Machine) Hydrate(path string, size int64) *Job {
	entry, ok := m.store.Get(path)
	if ok && entry.FileID != "" && entry.FileSize == size && entry.PartSize > 0 {
		return JobFromEntry(path, entry)
	}

	if ok {
		m.logger.Warn("discarding stale state", "path", path, "size", size, "storedSize", entry.FileSize)
		if err := m.store.Remove(path); err != nil {
			m.logger.Warn("remove stale state", "path", path, "error", err)
		}
	}
	return NewJob(path, size, m.partSize)
}

// prepareAndReconcile re-registers once when the remote forgot the file
func (m *Machine) prepareAndReconcile(ctx context.Context, sessionID string, job *Job) error {
	if err := m.Prepare(ctx, sessionID, job); err != nil {
		return err
	}

	err := m.Reconcile(ctx, job)
	if err == nil {
		return nil
	}
	if !errors.Is(err, uploadapi.ErrNotFound) && !errors.Is(err, errStaleRemote) {
		return err
	}

	m.logger.Warn("remote file gone, registering again", "path", job.FilePath, "fileId", job.FileID, "error", err)
	if err := m.store.Remove(job.FilePath); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	job.ResetRemote()

	if err := m.Prepare(ctx, sessionID, job); err != nil {
		return err
	}
	return m.Reconcile(ctx, job)
}

// Prepare registers the file when it has no remote id yet and persists the
// ids before any part goes out.
func (m *Machine) Prepare(ctx context.Context, sessionID string, job *Job) error {
	if job.FileID != "" {
		return nil
	}
	if sessionID == "" {
		return ErrNoSession
	}

	resp, err := m.files.RegisterFile(ctx, sessionID, &uploadapi.RegisterFileRequest{
		FileName:   job.FileName(),
		FileSize:   job.FileSize,
		ChunkCount: job.TotalParts,
	})
	if err != nil {
		return fmt.Errorf("register file: %w", err)
	}

	job.SessionID = sessionID
	job.FileID = resp.FileID
	job.UploadID = resp.UploadID
	job.SetParts(nil)
	job.Status = StatusRegistered

	return m.persist(job)
}

// Reconcile replaces the local part set with the remote list. Local records
// only contribute an ETag for a part the remote lists without one.
func (m *Machine) Reconcile(ctx context.Context, job *Job) error {
	resp, err := m.files.GetFileParts(ctx, job.FileID)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if resp.TotalChunks > 0 && resp.TotalChunks != job.TotalParts {
		return fmt.Errorf("%w: remote has %d parts, plan has %d", errStaleRemote, resp.TotalChunks, job.TotalParts)
	}
	if resp.UploadID != "" {
		job.UploadID = resp.UploadID
	}

	remote := remoteETags(resp)
	plan := job.Plan()
	parts := make([]PartRecord, 0, len(remote))
	for n, etag := range remote {
		if n < 1 || n > job.TotalParts {
			continue
		}
		if etag == "" {
			if local, ok := job.Part(n); ok {
				etag = local.ETag
			}
		}
		// without an etag the part cannot be completed, send it again
		if etag == "" {
			continue
		}
		parts = append(parts, PartRecord{PartNumber: n, ETag: etag, Size: plan.SizeOf(n)})
	}

	before := job.PartCount()
	job.SetParts(parts)
	if dropped := before - job.PartCount(); dropped > 0 {
		m.logger.Debug("reconcile dropped local parts", "path", job.FilePath, "dropped", dropped)
	}

	return m.persist(job)
}

// UploadNextPart sends part n unless it is already recorded. It reports whether
// a network upload happened. Progress is recorded only after storage acknowledged the part.
func (m *Machine) UploadNextPart(ctx context.Context, job *Job, r io.ReaderAt, n int) (bool, error) {
	if job.HasPart(n) {
		return false, nil
	}

	plan := job.Plan()
	size := plan.SizeOf(n)
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r, plan.Offset(n), size), buf); err != nil {
		return false, fmt.Errorf("%w: part %d: %w", ErrPartIncomplete, n, err)
	}

	partCtx, cancel := m.partContext(ctx)
	defer cancel()

	url, err := m.files.PresignPart(partCtx, job.FileID, n)
	if err != nil {
		return false, fmt.Errorf("presign part %d: %w", n, err)
	}

	etag, err := m.storage.PutPart(partCtx, url, bytes.NewReader(buf), size)
	if err != nil {
		return false, fmt.Errorf("upload part %d: %w", n, err)
	}

	job.AddPart(PartRecord{PartNumber: n, ETag: NormalizeETag(etag), Size: size})
	m.logger.Debug("part stored", "path", job.FilePath, "part", n, "size", humanize.IBytes(uint64(size)))

	return true, m.persist(job)
}

// Finalize completes the remote file. A rejected completion is retried once
// against a freshly fetched part list.
func (m *Machine) Finalize(ctx context.Context, job *Job) error {
	if !job.AllPartsUploaded() {
		return fmt.Errorf("finalize: %d of %d parts stored", job.PartCount(), job.TotalParts)
	}

	var lastErr error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		parts, err := m.completionParts(ctx, job)
		if err == nil {
			err = m.files.CompleteFile(ctx, job.FileID, &uploadapi.CompleteFileRequest{
				UploadID: job.UploadID,
				Parts:    parts,
			})
		}
		if err == nil {
			job.Status = StatusCompleted
			if err := m.store.Remove(job.FilePath); err != nil {
				m.logger.Warn("remove completed state", "path", job.FilePath, "error", err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		lastErr = err
		m.logger.Warn("complete file failed", "path", job.FilePath, "attempt", attempt, "error", err)
	}

	return fmt.Errorf("%w: %w", ErrCompletionConflict, lastErr)
}

// completionParts merges the remote list with the local parts, remote ETags win when present
func (m *Machine) completionParts(ctx context.Context, job *Job) ([]*uploadapi.PartETag, error) {
	resp, err := m.files.GetFileParts(ctx, job.FileID)
	if err != nil {
		return nil, fmt.Errorf("fetch parts: %w", err)
	}
	if resp.UploadID != "" {
		job.UploadID = resp.UploadID
	}

	merged := make(map[int]string, job.TotalParts)
	for _, p := range job.Parts() {
		merged[p.PartNumber] = p.ETag
	}
	for n, etag := range remoteETags(resp) {
		if n < 1 || n > job.TotalParts {
			continue
		}
		if etag == "" {
			etag = merged[n]
		}
		merged[n] = etag
	}

	parts := make([]*uploadapi.PartETag, 0, len(merged))
	for n, etag := range merged {
		parts = append(parts, &uploadapi.PartETag{PartNumber: n, ETag: etag})
	}
	sort.Slice(parts, func(a, b int) bool { return parts[a].PartNumber < parts[b].PartNumber })
	return parts, nil
}

// markStopped records why a run ended early. Parts already stored stay persisted.
func (m *Machine) markStopped(ctx context.Context, job *Job, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		job.Status = StatusPaused
		m.logger.Info("upload interrupted", "path", job.FilePath, "next", job.NextPartNumber, "done", job.PartCount())
		return
	}
	job.Status = StatusFailed
	m.logger.Error("upload failed", "path", job.FilePath, "error", err)
}

func (m *Machine) partContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.partTimeout > 0 {
		return context.WithTimeout(ctx, m.partTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Machine) persist(job *Job) error {
	if err := m.store.Upsert(job.FilePath, EntryFromJob(job)); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// remoteETags collects the remote part numbers with their normalized ETags, "" when unknown
func remoteETags(resp *uploadapi.FilePartsResponse) map[int]string {
	out := make(map[int]string, len(resp.UploadedPartNumbers)+len(resp.UploadedParts))
	for _, n := range resp.UploadedPartNumbers {
		if _, ok := out[n]; !ok {
			out[n] = ""
		}
	}
	for _, p := range resp.UploadedParts {
		if p == nil {
			continue
		}
		if etag := NormalizeETag(p.ETag); etag != "" || out[p.PartNumber] == "" {
			out[p.PartNumber] = etag
		}
	}
	return out
}

