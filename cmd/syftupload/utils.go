package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/syftupload/internal/upload"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	bold      = lipgloss.NewStyle().Bold(true)
)

func statusStyle(status upload.FileStatus) lipgloss.Style {
	switch status {
	case upload.FileCompleted:
		return green
	case upload.FileFailed:
		return red
	case upload.FileCanceled, upload.FilePaused:
		return yellow
	case upload.FileUploading:
		return cyan
	default:
		return lightGray
	}
}

// progressLine renders "42.0%  5.0 MiB / 12 MiB  (1/3 parts)"
func progressLine(p upload.Progress) string {
	return fmt.Sprintf("%5.1f%%  %s / %s  (%d/%d parts)",
		p.Percent,
		humanize.IBytes(uint64(p.SentBytes)),
		humanize.IBytes(uint64(p.FileSize)),
		p.PartsDone,
		p.TotalParts,
	)
}
