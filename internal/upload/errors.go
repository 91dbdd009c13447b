package upload

import "errors"

var (
	ErrFileNotFound       = errors.New("upload: file not found")
	ErrCompletionConflict = errors.New("upload: completion conflict")
	ErrQueueStopped       = errors.New("upload: queue stopped")
	ErrAlreadyQueued      = errors.New("upload: file already queued")
	ErrNoSession          = errors.New("upload: no session")
	ErrPartIncomplete     = errors.New("upload: short part read")
)
