package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/openmined/syftupload/internal/client/config"
	"github.com/openmined/syftupload/internal/upload"
	"github.com/openmined/syftupload/internal/uploadapi"
)

// Client owns the upload engine built from a validated config
type Client struct {
	config  *config.Config
	api     *uploadapi.Client
	storage *uploadapi.StorageClient
	store   upload.StateStore
	orch    *upload.Orchestrator
}

// Options replace the network side of the engine, used by tests
type Options struct {
	Remote  upload.RemoteService
	Storage upload.PartUploader
	Logger  *slog.Logger
}

func New(cfg *config.Config) (*Client, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api, err := uploadapi.New(&uploadapi.Config{
		BaseURL:    cfg.ServerURL,
		RetryCount: cfg.APIRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	storage := uploadapi.NewStorageClient(nil)

	var remote upload.RemoteService = api
	if opts.Remote != nil {
		remote = opts.Remote
	}
	var uploader upload.PartUploader = storage
	if opts.Storage != nil {
		uploader = opts.Storage
	}

	store, err := upload.OpenStateStore(cfg.StateBackend, cfg.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	sessions := upload.NewSessionCoordinator(remote, logger)
	machine := upload.NewMachine(remote, uploader, sessions, store, upload.MachineConfig{
		PartSize:    cfg.PartSize,
		PartTimeout: cfg.PartTimeoutDur,
	}, logger)
	orch := upload.NewOrchestrator(machine, sessions, store, upload.OrchestratorOptions{
		AutoCompleteSession: true,
		Logger:              logger,
	})

	slog.Info("upload client",
		"server", cfg.ServerURL,
		"user", cfg.UserID,
		"chunk", humanize.IBytes(uint64(cfg.PartSize)),
		"state", cfg.StatePath,
		"backend", cfg.StateBackend,
	)

	return &Client{
		config:  cfg,
		api:     api,
		storage: storage,
		store:   store,
		orch:    orch,
	}, nil
}

func (c *Client) Config() *config.Config {
	return c.config
}

func (c *Client) Orchestrator() *upload.Orchestrator {
	return c.orch
}

func (c *Client) API() *uploadapi.Client {
	return c.api
}

func (c *Client) Storage() *uploadapi.StorageClient {
	return c.storage
}

// Enqueue admits paths for the configured user, every path is attempted
func (c *Client) Enqueue(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := c.orch.EnqueueFile(c.config.UserID, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// RestorePending enqueues every file with persisted progress
func (c *Client) RestorePending() (int, error) {
	return c.orch.RestorePending(c.config.UserID)
}

// SessionIDs lists the user's active session and every session referenced by
// persisted state, sorted
func (c *Client) SessionIDs() []string {
	ids := mapset.NewThreadUnsafeSet[string]()
	if s, ok := c.orch.Sessions().Active(c.config.UserID); ok {
		ids.Add(s.ID)
	}
	for _, e := range c.store.Load() {
		if e.SessionID != "" {
			ids.Add(e.SessionID)
		}
	}

	out := ids.ToSlice()
	sort.Strings(out)
	return out
}

// SessionStatus asks the service about one session
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*uploadapi.SessionStatusResponse, error) {
	if sessionID == "" {
		return nil, upload.ErrNoSession
	}
	return c.api.GetSessionStatus(ctx, sessionID)
}

// PendingState lists the persisted entries of unfinished uploads
func (c *Client) PendingState() map[string]*upload.StateEntry {
	return c.store.Load()
}

func (c *Client) Close() error {
	c.orch.Close()
	return c.store.Close()
}
