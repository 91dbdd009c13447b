package uploadapi

// StartSessionRequest opens (or reuses) the upload session of a user
type StartSessionRequest struct {
	UserID string `json:"userId"`
}

type StartSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// ===================================================================================================

// RegisterFileRequest announces a file and its part count to the session
type RegisterFileRequest struct {
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	ChunkCount int    `json:"chunkCount"`
}

type RegisterFileResponse struct {
	FileID   string `json:"fileId"`
	S3Key    string `json:"s3Key"`
	UploadID string `json:"uploadId"`
}

// ===================================================================================================

type PresignPartRequest struct {
	PartNumber int `json:"partNumber"`
}

type PresignPartResponse struct {
	URL string `json:"url"`
}

// ===================================================================================================

// PartETag identifies a stored part when completing a file
type PartETag struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"eTag"`
}

type CompleteFileRequest struct {
	UploadID string      `json:"uploadId"`
	Parts    []*PartETag `json:"parts"`
}

// ===================================================================================================

// FilePartsResponse is the service's authoritative view of a file's stored parts
type FilePartsResponse struct {
	FileID              string      `json:"fileId"`
	S3Key               string      `json:"s3Key"`
	UploadID            string      `json:"uploadId"`
	TotalChunks         int         `json:"totalChunks"`
	UploadedPartNumbers []int       `json:"uploadedPartNumbers"`
	PendingPartNumbers  []int       `json:"pendingPartNumbers"`
	UploadedParts       []*PartETag `json:"uploadedParts"`
}

// ===================================================================================================

type FileStatusItem struct {
	FileID              string `json:"fileId"`
	FileName            string `json:"fileName"`
	TotalChunks         int    `json:"totalChunks"`
	UploadedChunks      int    `json:"uploadedChunks"`
	Status              string `json:"status"`
	PendingChunkIndexes []int  `json:"pendingChunkIndexes"`
}

type SessionStatusResponse struct {
	SessionID string            `json:"sessionId"`
	Files     []*FileStatusItem `json:"files"`
}
