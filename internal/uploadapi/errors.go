package uploadapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL   = errors.New("uploadapi: server url missing")
	ErrNotFound      = errors.New("uploadapi: not found")
	ErrEmptyResponse = errors.New("uploadapi: empty response")

	// object storage
	ErrPartRejected = errors.New("uploadapi: part rejected by storage")
	ErrMissingETag  = errors.New("uploadapi: storage returned no etag")
)

// APIError is the error body returned by the upload service
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d - %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// handleAPIError normalizes transport and api failures for a single operation.
// Transport errors keep their cause so context cancellation stays detectable.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if !resp.IsErrorState() {
		return nil
	}

	apiErr, ok := resp.ErrorResult().(*APIError)
	if !ok || apiErr == nil || (apiErr.Code == "" && apiErr.Message == "") {
		apiErr = &APIError{Message: http.StatusText(resp.StatusCode)}
	}
	apiErr.Status = resp.StatusCode

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", operation, ErrNotFound, apiErr)
	}
	return fmt.Errorf("%s: %w", operation, apiErr)
}
