package client

import "github.com/openmined/syftupload/internal/client/handlers"

// ControlPlaneConfig contains configuration for the control plane server
type ControlPlaneConfig struct {
	Addr      string // Address to bind the control plane server
	AuthToken string // Access token for the control plane server
	LogFile   string // Log file served by /v1/logs

	Transfer handlers.TransferStatsProvider // Storage traffic reported by /v1/status
}
