package handlers

import "github.com/openmined/syftupload/internal/upload"

type EnqueueRequest struct {
	Paths  []string `json:"paths" binding:"required,min=1"`
	UserID string   `json:"userId"`
}

type EnqueueError struct {
	Path  string `json:"path"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type EnqueueResponse struct {
	Queued []string       `json:"queued"`
	Errors []EnqueueError `json:"errors,omitempty"`
}

type UploadListResponse struct {
	State   upload.QueueState  `json:"state"`
	Pending int                `json:"pending"`
	Files   []upload.FileState `json:"files"`
}

type QueueStateResponse struct {
	State upload.QueueState `json:"state"`
}
