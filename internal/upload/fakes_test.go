package upload

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openmined/syftupload/internal/uploadapi"
	"github.com/stretchr/testify/require"
)

type fakeFile struct {
	id       string
	name     string
	size     int64
	chunks   int
	uploadID string
	parts    map[int]string // part number -> quoted etag
	done     bool
}

// fakeRemote is an in-memory upload service and object store
type fakeRemote struct {
	mu       sync.Mutex
	files    map[string]*fakeFile
	nextFile int
	puts     []string // "fileName#part" in PUT order
	presigns []string

	// hide etags from the part listing, only numbers are returned
	listNumbersOnly bool
	// fail the next n CompleteFile calls
	failComplete int
	// called before a PUT is stored, a non-nil error rejects the part
	beforePut func(ctx context.Context, file *fakeFile, part int) error

	startCalls    atomic.Int32
	pauseCalls    atomic.Int32
	resumeCalls   atomic.Int32
	completeCalls atomic.Int32
	fileCompletes atomic.Int32
	sessionCount  atomic.Int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: make(map[string]*fakeFile)}
}

func (f *fakeRemote) StartSession(ctx context.Context, userID string) (string, error) {
	f.startCalls.Add(1)
	return fmt.Sprintf("s-%d", f.sessionCount.Load()+1), nil
}

func (f *fakeRemote) PauseSession(ctx context.Context, sessionID string) error {
	f.pauseCalls.Add(1)
	return nil
}

func (f *fakeRemote) ResumeSession(ctx context.Context, sessionID string) error {
	f.resumeCalls.Add(1)
	return nil
}

func (f *fakeRemote) CompleteSession(ctx context.Context, sessionID string) error {
	f.completeCalls.Add(1)
	f.sessionCount.Add(1)
	return nil
}

func (f *fakeRemote) RegisterFile(ctx context.Context, sessionID string, params *uploadapi.RegisterFileRequest) (*uploadapi.RegisterFileResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextFile++
	file := &fakeFile{
		id:       fmt.Sprintf("f-%d", f.nextFile),
		name:     params.FileName,
		size:     params.FileSize,
		chunks:   params.ChunkCount,
		uploadID: fmt.Sprintf("u-%d", f.nextFile),
		parts:    make(map[int]string),
	}
	f.files[file.id] = file
	return &uploadapi.RegisterFileResponse{FileID: file.id, UploadID: file.uploadID, S3Key: "k/" + file.name}, nil
}

func (f *fakeRemote) PresignPart(ctx context.Context, fileID string, partNumber int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.files[fileID]; !ok {
		return "", uploadapi.ErrNotFound
	}
	f.presigns = append(f.presigns, fmt.Sprintf("%s#%d", fileID, partNumber))
	return fmt.Sprintf("mem://%s/%d", fileID, partNumber), nil
}

func (f *fakeRemote) PutPart(ctx context.Context, url string, body io.Reader, size int64) (string, error) {
	var fileID string
	var part int
	if _, err := fmt.Sscanf(strings.Replace(strings.TrimPrefix(url, "mem://"), "/", " ", 1), "%s %d", &fileID, &part); err != nil {
		return "", err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("short body: %d != %d", len(data), size)
	}

	f.mu.Lock()
	file := f.files[fileID]
	hook := f.beforePut
	f.mu.Unlock()
	if file == nil {
		return "", uploadapi.ErrPartRejected
	}

	if hook != nil {
		if err := hook(ctx, file, part); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	etag := fmt.Sprintf(`"etag-%s-%d"`, fileID, part)
	file.parts[part] = etag
	f.puts = append(f.puts, fmt.Sprintf("%s#%d", file.name, part))
	return etag, nil
}

func (f *fakeRemote) CompleteFile(ctx context.Context, fileID string, params *uploadapi.CompleteFileRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fileCompletes.Add(1)
	if f.failComplete > 0 {
		f.failComplete--
		return &uploadapi.APIError{Code: "E_CONFLICT", Message: "conflict", Status: 409}
	}

	file, ok := f.files[fileID]
	if !ok {
		return uploadapi.ErrNotFound
	}
	if params.UploadID != file.uploadID {
		return fmt.Errorf("upload id mismatch")
	}
	if len(params.Parts) != file.chunks {
		return fmt.Errorf("expected %d parts, got %d", file.chunks, len(params.Parts))
	}
	for i, p := range params.Parts {
		if p.PartNumber != i+1 {
			return fmt.Errorf("parts out of order")
		}
		if NormalizeETag(file.parts[p.PartNumber]) != p.ETag {
			return fmt.Errorf("etag mismatch for part %d", p.PartNumber)
		}
	}
	file.done = true
	return nil
}

func (f *fakeRemote) GetFileParts(ctx context.Context, fileID string) (*uploadapi.FilePartsResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("get file parts: %w", uploadapi.ErrNotFound)
	}

	resp := &uploadapi.FilePartsResponse{
		FileID:      file.id,
		UploadID:    file.uploadID,
		TotalChunks: file.chunks,
	}
	for n := 1; n <= file.chunks; n++ {
		etag, ok := file.parts[n]
		if !ok {
			resp.PendingPartNumbers = append(resp.PendingPartNumbers, n)
			continue
		}
		resp.UploadedPartNumbers = append(resp.UploadedPartNumbers, n)
		if !f.listNumbersOnly {
			resp.UploadedParts = append(resp.UploadedParts, &uploadapi.PartETag{PartNumber: n, ETag: etag})
		}
	}
	return resp, nil
}

func (f *fakeRemote) putLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...)
}

func (f *fakeRemote) presignLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.presigns...)
}

func (f *fakeRemote) setBeforePut(hook func(ctx context.Context, file *fakeFile, part int) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforePut = hook
}

func (f *fakeRemote) completedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, file := range f.files {
		if file.done {
			out = append(out, file.name)
		}
	}
	return out
}

// ===================================================================================================

func writeTestFile(t *testing.T, dir, name string, size int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type machineFixture struct {
	remote   *fakeRemote
	store    *JSONStateStore
	sessions *SessionCoordinator
	machine  *Machine
	dir      string
}

func newMachineFixture(t *testing.T, partSize int64) *machineFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := NewJSONStateStore(filepath.Join(dir, "state", "uploads.json"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	remote := newFakeRemote()
	sessions := NewSessionCoordinator(remote, nil)
	machine := NewMachine(remote, remote, sessions, store, MachineConfig{PartSize: partSize}, nil)

	return &machineFixture{
		remote:   remote,
		store:    store,
		sessions: sessions,
		machine:  machine,
		dir:      dir,
	}
}
