package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/syftupload/internal/client"
	"github.com/openmined/syftupload/internal/client/config"
	"github.com/openmined/syftupload/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var resumePending bool

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the upload engine behind a local http control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			slog.Info("syftupload", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
			slog.Info("daemon using config", "path", cfg.Path)

			daemon, err := client.NewClientDaemon(cfg, resumePending)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := daemon.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon start", "error", err)
				return err
			}
			return nil
		},
	}

	daemonCmd.Flags().StringP("http-addr", "a", config.DefaultHTTPAddr, "Address to bind the local http server")
	daemonCmd.Flags().StringP("http-token", "t", "", "Access token for the local http server")
	daemonCmd.Flags().BoolVar(&resumePending, "resume-pending", true, "Resume unfinished uploads from the state store on start")

	return daemonCmd
}
