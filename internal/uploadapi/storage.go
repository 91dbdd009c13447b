package uploadapi

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const HeaderETag = "ETag"

// StorageClient PUTs part bodies to presigned object-storage urls.
//
// It uses net/http directly: the body must go out with an exact
// Content-Length and no client-side buffering or retries.
type StorageClient struct {
	http  *http.Client
	stats *transferStats
}

func NewStorageClient(client *http.Client) *StorageClient {
	if client == nil {
		client = newStorageHTTPClient()
	}
	return &StorageClient{
		http:  client,
		stats: newTransferStats(),
	}
}

func newStorageHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 2 * time.Minute,
		},
	}
}

// PutPart sends exactly size bytes from body and returns the raw ETag header.
// Any non-2xx status is a rejection, a 2xx without ETag is a failure too.
func (s *StorageClient) PutPart(ctx context.Context, url string, body io.Reader, size int64) (string, error) {
	counted := &countingReader{r: body, onRead: s.stats.onSend}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, counted)
	if err != nil {
		return "", fmt.Errorf("create part request: %w", err)
	}
	req.ContentLength = size

	resp, err := s.http.Do(req)
	if err != nil {
		s.stats.setLastError(err)
		return "", fmt.Errorf("put part: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: status %d", ErrPartRejected, resp.StatusCode)
		s.stats.setLastError(err)
		return "", err
	}

	etag := resp.Header.Get(HeaderETag)
	if etag == "" {
		s.stats.setLastError(ErrMissingETag)
		return "", ErrMissingETag
	}

	s.stats.onPart()
	return etag, nil
}

// Stats returns a snapshot of the traffic sent through this client
func (s *StorageClient) Stats() TransferStats {
	return s.stats.snapshot()
}
