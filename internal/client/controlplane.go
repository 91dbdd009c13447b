package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/openmined/syftupload/internal/client/handlers"
	"github.com/openmined/syftupload/internal/client/middleware"
)

type ControlPlaneServer struct {
	config *ControlPlaneConfig
	server *http.Server
}

func NewControlPlaneServer(config *ControlPlaneConfig, uploads handlers.UploadService, userID string) (*ControlPlaneServer, error) {
	if _, err := addrToURL(config.Addr); err != nil {
		return nil, err
	}

	routes := SetupRoutes(uploads, &RouteConfig{
		UserID:   userID,
		LogFile:  config.LogFile,
		Transfer: config.Transfer,
		Auth: middleware.TokenAuthConfig{
			Token: config.AuthToken,
		},
	})

	httpServer := &http.Server{
		Addr:    config.Addr,
		Handler: routes,
		// no WriteTimeout, the events stream is long lived
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	return &ControlPlaneServer{
		config: config,
		server: httpServer,
	}, nil
}

func (s *ControlPlaneServer) Start(ctx context.Context) error {
	url, _ := addrToURL(s.config.Addr)
	slog.Info("control plane start", "addr", url, "auth", s.config.AuthToken != "")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (s *ControlPlaneServer) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}

// addrToURL turns a listen address into the url clients should use
func addrToURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid address %q: missing port", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
