package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/openmined/syftupload/internal/upload"
	"github.com/openmined/syftupload/internal/uploadapi"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type pendingUpload struct {
	Path          string    `json:"path" yaml:"path"`
	SessionID     string    `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	FileID        string    `json:"fileId" yaml:"fileId"`
	FileSize      int64     `json:"fileSize" yaml:"fileSize"`
	PartsUploaded int       `json:"partsUploaded" yaml:"partsUploaded"`
	TotalParts    int       `json:"totalParts" yaml:"totalParts"`
	Percent       float64   `json:"percent" yaml:"percent"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"updatedAt"`
}

type remoteFile struct {
	FileID         string `json:"fileId" yaml:"fileId"`
	FileName       string `json:"fileName" yaml:"fileName"`
	Status         string `json:"status" yaml:"status"`
	UploadedChunks int    `json:"uploadedChunks" yaml:"uploadedChunks"`
	TotalChunks    int    `json:"totalChunks" yaml:"totalChunks"`
}

type remoteSession struct {
	SessionID string       `json:"sessionId" yaml:"sessionId"`
	Files     []remoteFile `json:"files,omitempty" yaml:"files,omitempty"`
	Error     string       `json:"error,omitempty" yaml:"error,omitempty"`
}

type statusReport struct {
	StatePath string          `json:"statePath" yaml:"statePath"`
	Pending   []pendingUpload `json:"pending" yaml:"pending"`
	Sessions  []remoteSession `json:"sessions,omitempty" yaml:"sessions,omitempty"`
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	var output string
	var remote bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show unfinished uploads from the resume state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" && output != "json" && output != "yaml" {
				return fmt.Errorf("unknown output format %q, use json or yaml", output)
			}

			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			store, err := upload.OpenStateStore(cfg.StateBackend, cfg.StatePath, slog.Default())
			if err != nil {
				return err
			}
			defer store.Close()

			report := statusReport{
				StatePath: cfg.StatePath,
				Pending:   pendingUploads(store.Load()),
			}

			if remote {
				api, err := uploadapi.New(&uploadapi.Config{BaseURL: cfg.ServerURL, RetryCount: cfg.APIRetries})
				if err != nil {
					return err
				}
				report.Sessions = remoteSessions(cmd.Context(), api, report.Pending)
			}

			return writeStatus(cmd.OutOrStdout(), output, report)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output format: json or yaml (default table)")
	cmd.Flags().BoolVar(&remote, "remote", false, "also ask the service about each session")
	return cmd
}

func pendingUploads(entries map[string]*upload.StateEntry) []pendingUpload {
	out := make([]pendingUpload, 0, len(entries))
	for _, e := range entries {
		out = append(out, pendingUpload{
			Path:          e.Path,
			SessionID:     e.SessionID,
			FileID:        e.FileID,
			FileSize:      e.FileSize,
			PartsUploaded: e.UploadedPartsCount,
			TotalParts:    e.TotalParts,
			Percent:       e.ProgressPercent,
			UpdatedAt:     e.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

type sessionStatusGetter interface {
	GetSessionStatus(ctx context.Context, sessionID string) (*uploadapi.SessionStatusResponse, error)
}

func remoteSessions(ctx context.Context, api sessionStatusGetter, pending []pendingUpload) []remoteSession {
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, p := range pending {
		if p.SessionID != "" {
			ids.Add(p.SessionID)
		}
	}
	sorted := ids.ToSlice()
	sort.Strings(sorted)

	out := make([]remoteSession, 0, len(sorted))
	for _, id := range sorted {
		s := remoteSession{SessionID: id}
		resp, err := api.GetSessionStatus(ctx, id)
		if err != nil {
			s.Error = err.Error()
			out = append(out, s)
			continue
		}
		for _, f := range resp.Files {
			s.Files = append(s.Files, remoteFile{
				FileID:         f.FileID,
				FileName:       f.FileName,
				Status:         f.Status,
				UploadedChunks: f.UploadedChunks,
				TotalChunks:    f.TotalChunks,
			})
		}
		out = append(out, s)
	}
	return out
}

func writeStatus(w io.Writer, format string, report statusReport) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintln(w, gray.Render("state: "+report.StatePath))
	if len(report.Pending) == 0 {
		fmt.Fprintln(w, green.Render("no unfinished uploads"))
	}
	for _, p := range report.Pending {
		fmt.Fprintf(w, "%s %s\n", yellow.Render(fmt.Sprintf("%5.1f%%", p.Percent)), p.Path)
		fmt.Fprintln(w, gray.Render(fmt.Sprintf("       %d/%d parts of %s, updated %s",
			p.PartsUploaded, p.TotalParts, humanize.IBytes(uint64(p.FileSize)), humanize.Time(p.UpdatedAt))))
	}

	for _, s := range report.Sessions {
		fmt.Fprintln(w, bold.Render("session "+s.SessionID))
		if s.Error != "" {
			fmt.Fprintln(w, "  "+red.Render(s.Error))
			continue
		}
		for _, f := range s.Files {
			fmt.Fprintf(w, "  %-10s %s %s\n", f.Status, f.FileName,
				lightGray.Render(fmt.Sprintf("%d/%d", f.UploadedChunks, f.TotalChunks)))
		}
	}
	return nil
}
