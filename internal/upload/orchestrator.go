package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/syftupload/internal/utils"
)

type FileStatus string

const (
	FileQueued    FileStatus = "queued"
	FileUploading FileStatus = "uploading"
	FilePaused    FileStatus = "paused"
	FileCompleted FileStatus = "completed"
	FileFailed    FileStatus = "failed"
	FileCanceled  FileStatus = "canceled"
)

// FileState is the orchestrator's view of one file
type FileState struct {
	Path      string     `json:"path" yaml:"path"`
	UserID    string     `json:"userId" yaml:"userId"`
	Status    FileStatus `json:"status" yaml:"status"`
	Progress  Progress   `json:"progress" yaml:"progress"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts  int        `json:"attempts" yaml:"attempts"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"updatedAt"`
}

type OrchestratorOptions struct {
	// AutoCompleteSession completes the user's session once every file of the batch completed
	AutoCompleteSession bool
	Logger              *slog.Logger
}

// Orchestrator is the entry point for callers. It admits each path once,
// runs files one at a time through the Machine and reports their lifecycle.
type Orchestrator struct {
	machine  *Machine
	sessions *SessionCoordinator
	store    StateStore
	queue    *Queue
	opts     OrchestratorOptions
	logger   *slog.Logger

	// path keys with a waiting or running task
	admitted mapset.Set[string]

	mu        sync.RWMutex
	files     map[string]*FileState
	batches   map[string]mapset.Set[string] // user id -> path keys since the last session completion
	observers map[int]Observer
	nextObs   int

	// session calls run in order on a single worker
	control     chan func(context.Context)
	ctx         context.Context
	cancel      context.CancelFunc
	controlDone chan struct{}
	closeOnce   sync.Once
}

func NewOrchestrator(machine *Machine, sessions *SessionCoordinator, store StateStore, opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		machine:     machine,
		sessions:    sessions,
		store:       store,
		opts:        opts,
		logger:      logger.With("component", "orchestrator"),
		admitted:    mapset.NewSet[string](),
		files:       make(map[string]*FileState),
		batches:     make(map[string]mapset.Set[string]),
		observers:   make(map[int]Observer),
		control:     make(chan func(context.Context), 64),
		ctx:         ctx,
		cancel:      cancel,
		controlDone: make(chan struct{}),
	}

	o.queue = NewQueue(o.runTask, QueueHooks{
		Queued:    o.onQueued,
		Started:   o.onStarted,
		Completed: o.onCompleted,
		Failed:    o.onFailed,
		Canceled:  o.onCanceled,
	}, logger)

	go o.controlLoop()
	return o
}

// AddObserver registers an observer and returns a function that removes it
func (o *Orchestrator) AddObserver(obs Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextObs
	o.nextObs++
	o.observers[id] = obs

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}

// EnqueueFile admits a file for upload. A missing file is reported as failed with
// zero progress and ErrFileNotFound is returned, the rest of a batch is unaffected.
func (o *Orchestrator) EnqueueFile(userID, path string) error {
	abs, err := utils.ResolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	key := utils.PathKey(abs)

	if !utils.FileExists(abs) {
		err := fmt.Errorf("%w: %s", ErrFileNotFound, abs)
		o.update(key, abs, userID, func(s *FileState) {
			s.Status = FileFailed
			s.Progress = Progress{}
			s.Error = err.Error()
		})
		o.notify(func(obs Observer) {
			obs.OnProgress(abs, Progress{})
			obs.OnFailed(abs, err)
		})
		return err
	}

	if !o.admitted.Add(key) {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, abs)
	}

	o.mu.Lock()
	batch, ok := o.batches[userID]
	if !ok {
		batch = mapset.NewThreadUnsafeSet[string]()
		o.batches[userID] = batch
	}
	batch.Add(key)
	o.mu.Unlock()

	if err := o.queue.Enqueue(&Task{Key: key, Path: abs, UserID: userID}); err != nil {
		o.admitted.Remove(key)
		o.leaveBatch(userID, key)
		return err
	}
	return nil
}

// PauseAll interrupts the running file and stops dispatch. Open sessions are paused remotely.
func (o *Orchestrator) PauseAll() {
	o.queue.Pause()
	o.forOpenSessions("pause", o.sessions.Pause)
}

// ResumeAll restarts dispatch, the interrupted file goes first
func (o *Orchestrator) ResumeAll() {
	o.forOpenSessions("resume", o.sessions.Resume)
	o.queue.Resume()
}

// CancelAll drops every waiting file and cancels the running one
func (o *Orchestrator) CancelAll() {
	o.queue.CancelAll()
}

// RestorePending enqueues every file that has persisted progress. Entries whose
// file disappeared are removed from the store.
func (o *Orchestrator) RestorePending(userID string) (int, error) {
	entries := o.store.Load()

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Path != "" {
			paths = append(paths, e.Path)
		}
	}
	sort.Strings(paths)

	restored := 0
	var errs []error
	for _, path := range paths {
		if !utils.FileExists(path) {
			o.logger.Warn("dropping state of missing file", "path", path)
			if err := o.store.Remove(path); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		err := o.EnqueueFile(userID, path)
		switch {
		case err == nil:
			restored++
		case errors.Is(err, ErrAlreadyQueued):
		default:
			errs = append(errs, err)
		}
	}

	return restored, errors.Join(errs...)
}

func (o *Orchestrator) State() QueueState {
	return o.queue.State()
}

// Files returns a snapshot of every tracked file, sorted by path
func (o *Orchestrator) Files() []FileState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]FileState, 0, len(o.files))
	for _, s := range o.files {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (o *Orchestrator) File(path string) (FileState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s, ok := o.files[utils.PathKey(path)]
	if !ok {
		return FileState{}, false
	}
	return *s, true
}

// Pending is the number of admitted files that have not reached a terminal state
func (o *Orchestrator) Pending() int {
	return o.admitted.Cardinality()
}

func (o *Orchestrator) Sessions() *SessionCoordinator {
	return o.sessions
}

// Close stops the queue and the session worker
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.queue.Close()
		o.cancel()
		<-o.controlDone
	})
}

// ===================================================================================================

func (o *Orchestrator) runTask(ctx context.Context, task *Task) error {
	return o.machine.Run(ctx, task.UserID, task.Path, func(p Progress) {
		o.update(task.Key, task.Path, task.UserID, func(s *FileState) {
			s.Progress = p
		})
		o.notify(func(obs Observer) { obs.OnProgress(task.Path, p) })
	})
}

func (o *Orchestrator) onQueued(task *Task) {
	o.update(task.Key, task.Path, task.UserID, func(s *FileState) {
		s.Status = FileQueued
		s.Error = ""
	})
	o.notify(func(obs Observer) { obs.OnQueued(task.Path) })
}

func (o *Orchestrator) onStarted(task *Task) {
	o.update(task.Key, task.Path, task.UserID, func(s *FileState) {
		s.Status = FileUploading
		s.Attempts = task.Attempt
	})
	o.notify(func(obs Observer) { obs.OnStarted(task.Path) })
}

func (o *Orchestrator) onCompleted(task *Task) {
	o.admitted.Remove(task.Key)
	o.update(task.Key, task.Path, task.UserID, func(s *FileState) {
		s.Status = FileCompleted
		s.Progress.Percent = 100
	})
	o.notify(func(obs Observer) { obs.OnCompleted(task.Path) })

	if o.opts.AutoCompleteSession {
		o.submit(func(ctx context.Context) { o.completeSessionIfDone(ctx, task.UserID) })
	}
}

func (o *Orchestrator) onFailed(task *Task, err error) {
	o.admitted.Remove(task.Key)
	o.update(task.Key, task.Path, task.UserID, func(s *FileState) {
		s.Status = FileFailed
		s.Error = err.Error()
	})
	o.logger.Error("file failed", "path", task.Path, "error", err)
	o.notify(func(obs Observer) { obs.OnFailed(task.Path, err) })
}

func (o *Orchestrator) onCanceled(task *Task, requeued bool) {
	status := FilePaused
	if !requeued {
		status = FileCanceled
		o.admitted.Remove(task.Key)
		o.leaveBatch(task.UserID, task.Key)
	}
	o.update(task.Key, task.Path, task.UserID, func(s *FileState) {
		s.Status = status
	})
	o.notify(func(obs Observer) { obs.OnCanceled(task.Path, requeued) })

	// the remaining batch may now be all completed
	if !requeued && o.opts.AutoCompleteSession {
		o.submit(func(ctx context.Context) { o.completeSessionIfDone(ctx, task.UserID) })
	}
}

// completeSessionIfDone runs on the control worker. Session completion itself
// is at-most-once per session in the coordinator.
func (o *Orchestrator) completeSessionIfDone(ctx context.Context, userID string) {
	o.mu.RLock()
	batch, ok := o.batches[userID]
	done := ok && batch.Cardinality() > 0
	if done {
		batch.Each(func(key string) bool {
			s, ok := o.files[key]
			if !ok || s.Status != FileCompleted {
				done = false
				return true
			}
			return false
		})
	}
	o.mu.RUnlock()
	if !done {
		return
	}

	session, ok := o.sessions.Active(userID)
	if !ok {
		return
	}

	if err := o.sessions.Complete(ctx, session.ID); err != nil {
		o.logger.Error("complete session", "session", session.ID, "error", err)
		return
	}

	o.mu.Lock()
	delete(o.batches, userID)
	o.mu.Unlock()

	o.notify(func(obs Observer) {
		if so, ok := obs.(SessionObserver); ok {
			so.OnSessionCompleted(userID, session.ID)
		}
	})
}

func (o *Orchestrator) forOpenSessions(op string, fn func(context.Context, string) error) {
	o.submit(func(ctx context.Context) {
		for _, s := range o.sessions.Sessions() {
			if s.Status == SessionCompleted {
				continue
			}
			if err := fn(ctx, s.ID); err != nil {
				o.logger.Warn("session "+op, "session", s.ID, "error", err)
			}
		}
	})
}

// submit drops fn once the orchestrator is closed
func (o *Orchestrator) submit(fn func(context.Context)) {
	select {
	case o.control <- fn:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) controlLoop() {
	defer close(o.controlDone)
	for {
		select {
		case fn := <-o.control:
			fn(o.ctx)
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) leaveBatch(userID, key string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if batch, ok := o.batches[userID]; ok {
		batch.Remove(key)
		if batch.Cardinality() == 0 {
			delete(o.batches, userID)
		}
	}
}

func (o *Orchestrator) update(key, path, userID string, fn func(*FileState)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.files[key]
	if !ok {
		s = &FileState{Path: path}
		o.files[key] = s
	}
	s.UserID = userID
	fn(s)
	s.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) notify(fn func(Observer)) {
	o.mu.RLock()
	observers := make([]Observer, 0, len(o.observers))
	for _, obs := range o.observers {
		observers = append(observers, obs)
	}
	o.mu.RUnlock()

	for _, obs := range observers {
		fn(obs)
	}
}
