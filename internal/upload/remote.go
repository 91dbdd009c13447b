package upload

import (
	"context"
	"io"

	"github.com/openmined/syftupload/internal/uploadapi"
)

// SessionService is the session half of the remote upload service
type SessionService interface {
	StartSession(ctx context.Context, userID string) (string, error)
	PauseSession(ctx context.Context, sessionID string) error
	ResumeSession(ctx context.Context, sessionID string) error
	CompleteSession(ctx context.Context, sessionID string) error
}

// FileService is the per-file half of the remote upload service
type FileService interface {
	RegisterFile(ctx context.Context, sessionID string, params *uploadapi.RegisterFileRequest) (*uploadapi.RegisterFileResponse, error)
	PresignPart(ctx context.Context, fileID string, partNumber int) (string, error)
	CompleteFile(ctx context.Context, fileID string, params *uploadapi.CompleteFileRequest) error
	GetFileParts(ctx context.Context, fileID string) (*uploadapi.FilePartsResponse, error)
}

// RemoteService is implemented by *uploadapi.Client
type RemoteService interface {
	SessionService
	FileService
}

// PartUploader PUTs one part to a presigned url and returns the raw ETag.
// Implemented by *uploadapi.StorageClient.
type PartUploader interface {
	PutPart(ctx context.Context, url string, body io.Reader, size int64) (string, error)
}

var (
	_ RemoteService = (*uploadapi.Client)(nil)
	_ PartUploader  = (*uploadapi.StorageClient)(nil)
)
