package uploadapi

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imroc/req/v3"
	"github.com/openmined/syftupload/internal/utils"
	"github.com/openmined/syftupload/internal/version"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderVersion   = "X-SyftUpload-Version"
	HeaderDeviceId  = "X-SyftUpload-Device-Id"
	HeaderRequestId = "X-Request-Id"
)

const (
	defaultRetryCount = 3
	defaultTimeout    = 30 * time.Second
)

// Config for the upload service client
type Config struct {
	BaseURL    string
	RetryCount int
	Timeout    time.Duration
}

// Client talks to the upload service. It is safe for concurrent use.
type Client struct {
	http    *req.Client
	baseURL string
}

func New(cfg *Config) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoServerURL
	}

	// zero picks the default, negative disables retries
	retries := cfg.RetryCount
	if retries == 0 {
		retries = defaultRetryCount
	} else if retries < 0 {
		retries = 0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetCommonRetryCount(retries).
		SetCommonRetryFixedInterval(1*time.Second).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonHeader(HeaderDeviceId, utils.HWID).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			r.SetHeader(HeaderRequestId, uuid.NewString())
			return nil
		})

	return &Client{
		http:    client,
		baseURL: baseURL,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}
