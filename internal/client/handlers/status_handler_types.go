package handlers

import (
	"github.com/openmined/syftupload/internal/upload"
	"github.com/openmined/syftupload/internal/uploadapi"
)

// StatusResponse represents the health status of the daemon.
type StatusResponse struct {
	Status    string        `json:"status"`    // health status ("ok").
	Timestamp string        `json:"ts"`        // timestamp when health check was performed.
	StartedAt string        `json:"startedAt"` // when the daemon started serving.
	Version   string        `json:"version"`   // version of the client.
	Revision  string        `json:"revision"`  // revision of the client.
	BuildDate string        `json:"buildDate"` // build date of the client.
	UserID    string        `json:"userId"`    // default user for enqueue requests.
	Queue     *QueueSummary `json:"queue"`

	Transfer *uploadapi.TransferStats `json:"transfer,omitempty"`
}

// QueueSummary counts tracked files per status
type QueueSummary struct {
	State   upload.QueueState         `json:"state"`
	Pending int                       `json:"pending"`
	Files   map[upload.FileStatus]int `json:"files"`
}
