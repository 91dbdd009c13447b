package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/openmined/syftupload/internal/upload"
	"github.com/openmined/syftupload/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".syftupload")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "syftupload.log")
	DefaultServerURL   = "http://localhost:8080"
	DefaultChunkSize   = "5MiB"
	DefaultHTTPAddr    = "localhost:7939"
)

var (
	ErrNoUserID        = errors.New("user id is required")
	ErrChunkSizeTooLow = fmt.Errorf("chunk size must be at least %s", humanize.IBytes(uint64(upload.MinPartSize)))
)

type Config struct {
	ServerURL    string `json:"server_url"`
	UserID       string `json:"user_id"`
	ChunkSize    string `json:"chunk_size,omitempty"`
	StatePath    string `json:"state_path,omitempty"`
	StateBackend string `json:"state_backend,omitempty"`
	PartTimeout  string `json:"part_timeout,omitempty"`
	APIRetries   int    `json:"api_retries,omitempty"`
	HTTPAddr     string `json:"http_addr,omitempty"`
	HTTPToken    string `json:"http_token,omitempty"`
	Path         string `json:"-"`

	// filled by Validate
	PartSize       int64         `json:"-"`
	PartTimeoutDur time.Duration `json:"-"`
}

// Validate normalizes the config in place and fills the parsed fields
func (c *Config) Validate() error {
	var err error

	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if err := validateURL(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}

	c.UserID = strings.TrimSpace(c.UserID)
	if c.UserID == "" {
		return ErrNoUserID
	}

	if c.ChunkSize == "" {
		c.ChunkSize = DefaultChunkSize
	}
	size, err := humanize.ParseBytes(c.ChunkSize)
	if err != nil {
		return fmt.Errorf("invalid chunk size %q: %w", c.ChunkSize, err)
	}
	if int64(size) < upload.MinPartSize {
		return fmt.Errorf("%w, got %s", ErrChunkSizeTooLow, humanize.IBytes(size))
	}
	c.PartSize = int64(size)

	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))
	if c.StateBackend == "" {
		c.StateBackend = upload.BackendJSON
	}
	if c.StateBackend != upload.BackendJSON && c.StateBackend != upload.BackendSQLite {
		return fmt.Errorf("state backend %q: %w", c.StateBackend, upload.ErrUnknownBackend)
	}

	if c.StatePath == "" {
		c.StatePath = DefaultStatePath(c.StateBackend)
	}
	if c.StatePath, err = utils.ResolvePath(c.StatePath); err != nil {
		return fmt.Errorf("invalid state path: %w", err)
	}

	c.PartTimeoutDur = 0
	if c.PartTimeout != "" {
		d, err := time.ParseDuration(c.PartTimeout)
		if err != nil {
			return fmt.Errorf("invalid part timeout %q: %w", c.PartTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("part timeout must not be negative")
		}
		c.PartTimeoutDur = d
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}
	}

	return nil
}

func (c *Config) Save() error {
	if c.Path == "" {
		return utils.ErrEmptyPath
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// holds the control plane token
	return utils.WriteFileAtomic(c.Path, data, 0o600)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.Path = path
	return &cfg, nil
}

// DefaultStatePath is where resume state lives for a backend
func DefaultStatePath(backend string) string {
	if backend == upload.BackendSQLite {
		return filepath.Join(DefaultConfigDir, "state", "uploads.db")
	}
	return filepath.Join(DefaultConfigDir, "state", "uploads.json")
}

// LoadEnvFile reads KEY=VALUE pairs into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
