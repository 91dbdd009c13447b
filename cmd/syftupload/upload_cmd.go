package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/openmined/syftupload/internal/client"
	"github.com/openmined/syftupload/internal/upload"
	"github.com/openmined/syftupload/internal/utils"
	"github.com/spf13/cobra"
)

const sessionCompleteWait = 30 * time.Second

func init() {
	rootCmd.AddCommand(newUploadCmd())
}

func newUploadCmd() *cobra.Command {
	var resumePending bool

	cmd := &cobra.Command{
		Use:   "upload [paths or globs...]",
		Short: "Upload files and wait until every file completes or fails",
		Example: `  syftupload upload -u alice ./videos/*.mp4
  syftupload upload -u alice "data/**/*.parquet"
  syftupload upload -u alice --resume-pending`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !resumePending {
				return errors.New("nothing to upload, pass paths or --resume-pending")
			}

			paths, err := expandPaths(args)
			if err != nil {
				return err
			}

			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			c, err := client.New(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			return runUploads(cmd.Context(), c, paths, resumePending, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&resumePending, "resume-pending", false, "also resume every unfinished upload found in the state store")
	return cmd
}

// expandPaths resolves doublestar globs. Arguments that match nothing are kept
// as literal paths so they are reported as not found.
func expandPaths(args []string) ([]string, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []string

	for _, arg := range args {
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			matches = []string{arg}
		}
		for _, m := range matches {
			if seen.Add(utils.PathKey(m)) {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

type fileResult struct {
	path     string
	status   upload.FileStatus
	progress upload.Progress
	err      string
}

// uploadWatcher waits for a known set of files to reach a terminal state
type uploadWatcher struct {
	outMu sync.Mutex
	out   io.Writer

	mu        sync.Mutex
	remaining mapset.Set[string]
	results   map[string]*fileResult
	order     []string
	session   string

	allDone     chan struct{}
	sessionDone chan struct{}
	closeOnce   sync.Once
	sessionOnce sync.Once
}

func newUploadWatcher(out io.Writer) *uploadWatcher {
	return &uploadWatcher{
		out:         out,
		remaining:   mapset.NewThreadUnsafeSet[string](),
		results:     make(map[string]*fileResult),
		allDone:     make(chan struct{}),
		sessionDone: make(chan struct{}),
	}
}

func (w *uploadWatcher) expect(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := utils.PathKey(path)
	if w.remaining.Add(key) {
		w.resultLocked(key, path)
	}
}

func (w *uploadWatcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := utils.PathKey(path)
	w.remaining.Remove(key)
	delete(w.results, key)
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.checkLocked()
}

// seal is called once every expected path is registered
func (w *uploadWatcher) seal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkLocked()
}

func (w *uploadWatcher) resultLocked(key, path string) *fileResult {
	r, ok := w.results[key]
	if !ok {
		r = &fileResult{path: path, status: upload.FileQueued}
		w.results[key] = r
		w.order = append(w.order, key)
	}
	return r
}

func (w *uploadWatcher) checkLocked() {
	if w.remaining.Cardinality() == 0 {
		w.closeOnce.Do(func() { close(w.allDone) })
	}
}

func (w *uploadWatcher) finish(path string, status upload.FileStatus, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := utils.PathKey(path)
	r := w.resultLocked(key, path)
	r.status = status
	if err != nil {
		r.err = err.Error()
	}
	if status == upload.FileCompleted {
		r.progress.Percent = 100
	}
	w.remaining.Remove(key)
	w.checkLocked()
}

func (w *uploadWatcher) println(line string) {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	fmt.Fprintln(w.out, line)
}

func (w *uploadWatcher) observer() upload.Observer {
	return upload.ObserverFuncs{
		Started: func(path string) {
			w.println(cyan.Render("▶ ") + path)
		},
		Progress: func(path string, p upload.Progress) {
			w.mu.Lock()
			w.resultLocked(utils.PathKey(path), path).progress = p
			w.mu.Unlock()
			if p.TotalParts > 0 {
				w.println(gray.Render("  " + progressLine(p)))
			}
		},
		Completed: func(path string) {
			w.println(green.Render("✔ ") + path)
			w.finish(path, upload.FileCompleted, nil)
		},
		Failed: func(path string, err error) {
			w.println(red.Render("✘ ") + path + " " + lightGray.Render(err.Error()))
			w.finish(path, upload.FileFailed, err)
		},
		Canceled: func(path string, requeued bool) {
			if requeued {
				return
			}
			w.finish(path, upload.FileCanceled, nil)
		},
		SessionCompleted: func(userID, sessionID string) {
			w.mu.Lock()
			w.session = sessionID
			w.mu.Unlock()
			w.sessionOnce.Do(func() { close(w.sessionDone) })
		},
	}
}

func (w *uploadWatcher) summary() (results []fileResult, failed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, key := range w.order {
		r := *w.results[key]
		if r.status != upload.FileCompleted {
			failed++
		}
		results = append(results, r)
	}
	return results, failed
}

func runUploads(ctx context.Context, c *client.Client, paths []string, resumePending bool, out io.Writer) error {
	orch := c.Orchestrator()
	w := newUploadWatcher(out)
	remove := orch.AddObserver(w.observer())
	defer remove()

	for _, p := range paths {
		w.expect(p)
	}

	if resumePending {
		pending := c.PendingState()
		for _, e := range pending {
			w.expect(e.Path)
		}
		n, err := c.RestorePending()
		if err != nil {
			slog.Warn("restore pending uploads", "error", err)
		}
		// entries whose file vanished were dropped instead of enqueued
		for _, e := range pending {
			if _, ok := orch.File(e.Path); !ok {
				w.forget(e.Path)
			}
		}
		w.println(fmt.Sprintf("resuming %d unfinished upload(s)", n))
	}

	for _, p := range paths {
		err := orch.EnqueueFile(c.Config().UserID, p)
		switch {
		case err == nil:
		case errors.Is(err, upload.ErrFileNotFound):
			// reported through the observer
		case errors.Is(err, upload.ErrAlreadyQueued):
			// restored from the state store above
		default:
			w.finish(p, upload.FileFailed, err)
		}
	}
	w.seal()

	select {
	case <-w.allDone:
	case <-ctx.Done():
		w.println(yellow.Render("interrupted, progress is saved. Run again with --resume-pending to continue."))
		return nil
	}

	results, failed := w.summary()
	if failed == 0 && len(results) > 0 {
		// session completion runs after the last file, give it a moment before exit
		select {
		case <-w.sessionDone:
			w.mu.Lock()
			w.println(gray.Render("session " + w.session + " completed"))
			w.mu.Unlock()
		case <-time.After(sessionCompleteWait):
			slog.Warn("session completion not confirmed")
		case <-ctx.Done():
		}
	}

	w.outMu.Lock()
	printSummary(out, results)
	w.outMu.Unlock()
	if failed > 0 {
		return fmt.Errorf("%d of %d upload(s) did not complete", failed, len(results))
	}
	return nil
}

func printSummary(out io.Writer, results []fileResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, gray.Render("nothing uploaded"))
		return
	}

	var total int64
	fmt.Fprintln(out)
	fmt.Fprintln(out, bold.Render("Summary"))
	for _, r := range results {
		line := fmt.Sprintf("  %-10s %s", statusStyle(r.status).Render(string(r.status)), r.path)
		if r.progress.FileSize > 0 {
			line += gray.Render(" " + humanize.IBytes(uint64(r.progress.FileSize)))
		}
		if r.err != "" {
			line += " " + red.Render(r.err)
		}
		if r.status == upload.FileCompleted {
			total += r.progress.FileSize
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, gray.Render(fmt.Sprintf("  %s uploaded", humanize.IBytes(uint64(total)))))
}
