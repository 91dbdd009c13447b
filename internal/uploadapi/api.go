package uploadapi

import (
	"context"
	"strings"
)

const (
	v1UploadStart         = "/api/v1/upload/start"
	v1UploadRegisterFile  = "/api/v1/upload/{sessionId}/files"
	v1UploadPartURL       = "/api/v1/upload/files/{fileId}/parts/url"
	v1UploadCompleteFile  = "/api/v1/upload/files/{fileId}/complete"
	v1UploadFileParts     = "/api/v1/upload/files/{fileId}/parts"
	v1UploadSessionStatus = "/api/v1/upload/{sessionId}/status"
	v1UploadSessionPause  = "/api/v1/upload/{sessionId}/pause"
	v1UploadSessionResume = "/api/v1/upload/{sessionId}/resume"
	v1UploadSessionDone   = "/api/v1/upload/{sessionId}/complete"
)

// StartSession opens a session for the user, or returns the one already open
func (c *Client) StartSession(ctx context.Context, userID string) (string, error) {
	var apiResp *StartSessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&StartSessionRequest{UserID: userID}).
		SetSuccessResult(&apiResp).
		Post(v1UploadStart)

	if err := handleAPIError(resp, err, "start session"); err != nil {
		return "", err
	}
	if apiResp == nil || apiResp.SessionID == "" {
		return "", ErrEmptyResponse
	}

	return apiResp.SessionID, nil
}

// RegisterFile creates the remote multipart upload for a file
func (c *Client) RegisterFile(ctx context.Context, sessionID string, params *RegisterFileRequest) (apiResp *RegisterFileResponse, err error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("sessionId", sessionID).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v1UploadRegisterFile)

	if err := handleAPIError(resp, err, "register file"); err != nil {
		return nil, err
	}
	if apiResp == nil || apiResp.FileID == "" {
		return nil, ErrEmptyResponse
	}

	return apiResp, nil
}

// PresignPart returns a short-lived url that accepts a PUT of one part
func (c *Client) PresignPart(ctx context.Context, fileID string, partNumber int) (string, error) {
	var apiResp *PresignPartResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("fileId", fileID).
		SetBody(&PresignPartRequest{PartNumber: partNumber}).
		SetSuccessResult(&apiResp).
		Post(v1UploadPartURL)

	if err := handleAPIError(resp, err, "presign part"); err != nil {
		return "", err
	}
	if apiResp == nil || strings.TrimSpace(apiResp.URL) == "" {
		return "", ErrEmptyResponse
	}

	return apiResp.URL, nil
}

// CompleteFile assembles the stored parts into the final object
func (c *Client) CompleteFile(ctx context.Context, fileID string, params *CompleteFileRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("fileId", fileID).
		SetBody(params).
		SetRetryCount(0).
		Patch(v1UploadCompleteFile)

	return handleAPIError(resp, err, "complete file")
}

// GetFileParts lists the parts the service has stored for a file
func (c *Client) GetFileParts(ctx context.Context, fileID string) (apiResp *FilePartsResponse, err error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("fileId", fileID).
		SetSuccessResult(&apiResp).
		Get(v1UploadFileParts)

	if err := handleAPIError(resp, err, "get file parts"); err != nil {
		return nil, err
	}
	if apiResp == nil {
		return nil, ErrEmptyResponse
	}

	return apiResp, nil
}

func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (apiResp *SessionStatusResponse, err error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("sessionId", sessionID).
		SetSuccessResult(&apiResp).
		Get(v1UploadSessionStatus)

	if err := handleAPIError(resp, err, "get session status"); err != nil {
		return nil, err
	}
	if apiResp == nil {
		return nil, ErrEmptyResponse
	}

	return apiResp, nil
}

func (c *Client) PauseSession(ctx context.Context, sessionID string) error {
	return c.patchSession(ctx, sessionID, v1UploadSessionPause, "pause session")
}

func (c *Client) ResumeSession(ctx context.Context, sessionID string) error {
	return c.patchSession(ctx, sessionID, v1UploadSessionResume, "resume session")
}

func (c *Client) CompleteSession(ctx context.Context, sessionID string) error {
	return c.patchSession(ctx, sessionID, v1UploadSessionDone, "complete session")
}

// session transitions are not retried, failures go straight to the caller
func (c *Client) patchSession(ctx context.Context, sessionID, route, operation string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("sessionId", sessionID).
		SetRetryCount(0).
		Patch(route)

	return handleAPIError(resp, err, operation)
}
