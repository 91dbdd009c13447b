package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftupload/internal/upload"
	"github.com/openmined/syftupload/internal/uploadapi"
	"github.com/openmined/syftupload/internal/version"
)

// TransferStatsProvider reports object storage traffic
type TransferStatsProvider interface {
	Stats() uploadapi.TransferStats
}

// StatusHandler handles status-related endpoints
type StatusHandler struct {
	uploads   UploadService
	transfer  TransferStatsProvider
	userID    string
	startedAt time.Time
}

// NewStatusHandler creates a new status handler. transfer may be nil.
func NewStatusHandler(uploads UploadService, transfer TransferStatsProvider, userID string) *StatusHandler {
	return &StatusHandler{
		uploads:   uploads,
		transfer:  transfer,
		userID:    userID,
		startedAt: time.Now().UTC(),
	}
}

// Status godoc
//
//	@Summary		Get status
//	@Description	Returns the daemon build info and a summary of the upload queue
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/v1/status [get]
//	@Security		APIToken
func (h *StatusHandler) Status(ctx *gin.Context) {
	// this is unlikely to happen, but just in case
	if h.uploads == nil {
		ctx.PureJSON(http.StatusServiceUnavailable, &ControlPlaneError{
			ErrorCode: ErrCodeUnknownError,
			Error:     "upload queue not initialized",
		})
		return
	}

	counts := make(map[upload.FileStatus]int)
	for _, f := range h.uploads.Files() {
		counts[f.Status]++
	}

	var transfer *uploadapi.TransferStats
	if h.transfer != nil {
		stats := h.transfer.Stats()
		transfer = &stats
	}

	ctx.PureJSON(http.StatusOK, &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		StartedAt: h.startedAt.Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		UserID:    h.userID,
		Queue: &QueueSummary{
			State:   h.uploads.State(),
			Pending: h.uploads.Pending(),
			Files:   counts,
		},
		Transfer: transfer,
	})
}
