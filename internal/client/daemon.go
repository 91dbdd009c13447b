package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/syftupload/internal/client/config"
	"golang.org/x/sync/errgroup"
)

type ClientDaemon struct {
	client *Client
	cps    *ControlPlaneServer
	// enqueue persisted uploads on start
	resumePending bool
}

func NewClientDaemon(cfg *config.Config, resumePending bool) (*ClientDaemon, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return newDaemon(c, resumePending)
}

func newDaemon(c *Client, resumePending bool) (*ClientDaemon, error) {
	cfg := c.Config()
	cps, err := NewControlPlaneServer(&ControlPlaneConfig{
		Addr:      cfg.HTTPAddr,
		AuthToken: cfg.HTTPToken,
		LogFile:   config.DefaultLogFilePath,
		Transfer:  c.Storage(),
	}, c.Orchestrator(), cfg.UserID)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &ClientDaemon{
		client:        c,
		cps:           cps,
		resumePending: resumePending,
	}, nil
}

func (d *ClientDaemon) Start(ctx context.Context) error {
	slog.Info("client daemon start")

	if d.resumePending {
		n, err := d.client.RestorePending()
		if err != nil {
			slog.Warn("restore pending uploads", "error", err)
		}
		slog.Info("restored pending uploads", "count", n)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.cps.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return d.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client daemon failure", "error", err)
		return err
	}

	slog.Info("client daemon stopped")
	return nil
}

// Stop shuts the control plane down first so no new work arrives, then the engine.
// In-flight parts are canceled and stay resumable.
func (d *ClientDaemon) Stop(ctx context.Context) error {
	var errs []error
	if err := d.cps.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop control plane: %w", err))
	}
	if err := d.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close client: %w", err))
	}
	return errors.Join(errs...)
}
