package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftupload/internal/upload"
)

const (
	ErrCodeFileNotFound  = "ERR_FILE_NOT_FOUND"
	ErrCodeAlreadyQueued = "ERR_ALREADY_QUEUED"
	ErrCodeQueueStopped  = "ERR_QUEUE_STOPPED"
	ErrCodeUploadFailed  = "ERR_UPLOAD_FAILED"
)

// UploadService is the control surface of the upload orchestrator
type UploadService interface {
	EnqueueFile(userID, path string) error
	PauseAll()
	ResumeAll()
	CancelAll()
	State() upload.QueueState
	Pending() int
	Files() []upload.FileState
	AddObserver(obs upload.Observer) func()
}

var _ UploadService = (*upload.Orchestrator)(nil)

type UploadHandler struct {
	uploads UploadService
	userID  string
}

// NewUploadHandler serves the upload queue. userID is used when a request names no user.
func NewUploadHandler(uploads UploadService, userID string) *UploadHandler {
	return &UploadHandler{uploads: uploads, userID: userID}
}

// List godoc
//
//	@Summary		List uploads
//	@Description	Returns every tracked file with its status and progress
//	@Tags			uploads
//	@Produce		json
//	@Success		200	{object}	UploadListResponse
//	@Router			/v1/uploads [get]
//	@Security		APIToken
func (h *UploadHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, UploadListResponse{
		State:   h.uploads.State(),
		Pending: h.uploads.Pending(),
		Files:   h.uploads.Files(),
	})
}

// Enqueue godoc
//
//	@Summary		Enqueue files
//	@Description	Admits files to the upload queue. Paths that cannot be admitted are reported per path.
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Param			request	body		EnqueueRequest	true	"Files to upload"
//	@Success		202		{object}	EnqueueResponse
//	@Success		207		{object}	EnqueueResponse
//	@Failure		400		{object}	ControlPlaneError
//	@Failure		503		{object}	ControlPlaneError
//	@Router			/v1/uploads [post]
//	@Security		APIToken
func (h *UploadHandler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = h.userID
	}
	if userID == "" {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("user id is required"))
		return
	}

	resp := EnqueueResponse{Queued: make([]string, 0, len(req.Paths))}
	for _, path := range req.Paths {
		err := h.uploads.EnqueueFile(userID, path)
		if err == nil {
			resp.Queued = append(resp.Queued, path)
			continue
		}
		if errors.Is(err, upload.ErrQueueStopped) {
			AbortWithError(c, http.StatusServiceUnavailable, ErrCodeQueueStopped, err)
			return
		}
		resp.Errors = append(resp.Errors, EnqueueError{Path: path, Code: enqueueErrorCode(err), Error: err.Error()})
	}

	status := http.StatusAccepted
	if len(resp.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, resp)
}

// Pause godoc
//
//	@Summary		Pause uploads
//	@Description	Interrupts the running file and holds the queue. The interrupted file runs first after resume.
//	@Tags			uploads
//	@Produce		json
//	@Success		200	{object}	QueueStateResponse
//	@Router			/v1/uploads/pause [post]
//	@Security		APIToken
func (h *UploadHandler) Pause(c *gin.Context) {
	h.uploads.PauseAll()
	c.JSON(http.StatusOK, QueueStateResponse{State: h.uploads.State()})
}

// Resume godoc
//
//	@Summary		Resume uploads
//	@Tags			uploads
//	@Produce		json
//	@Success		200	{object}	QueueStateResponse
//	@Router			/v1/uploads/resume [post]
//	@Security		APIToken
func (h *UploadHandler) Resume(c *gin.Context) {
	h.uploads.ResumeAll()
	c.JSON(http.StatusOK, QueueStateResponse{State: h.uploads.State()})
}

// Cancel godoc
//
//	@Summary		Cancel uploads
//	@Description	Drops every waiting file and interrupts the running one. Progress stays resumable.
//	@Tags			uploads
//	@Produce		json
//	@Success		200	{object}	QueueStateResponse
//	@Router			/v1/uploads/cancel [post]
//	@Security		APIToken
func (h *UploadHandler) Cancel(c *gin.Context) {
	h.uploads.CancelAll()
	c.JSON(http.StatusOK, QueueStateResponse{State: h.uploads.State()})
}

func enqueueErrorCode(err error) string {
	switch {
	case errors.Is(err, upload.ErrFileNotFound):
		return ErrCodeFileNotFound
	case errors.Is(err, upload.ErrAlreadyQueued):
		return ErrCodeAlreadyQueued
	default:
		return ErrCodeUploadFailed
	}
}
