package upload

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/openmined/syftupload/internal/queue"
)

type QueueState string

const (
	QueueRunning QueueState = "running"
	QueuePaused  QueueState = "paused"
	QueueStopped QueueState = "stopped"
)

// Task is one file waiting for or holding the queue
type Task struct {
	Key     string // case-folded path identity
	Path    string
	UserID  string
	Attempt int
}

// WorkFunc runs a task. It must return promptly once ctx is canceled.
type WorkFunc func(ctx context.Context, task *Task) error

// QueueHooks are called from the pump goroutine, nil fields are skipped
type QueueHooks struct {
	Queued    func(*Task)
	Started   func(*Task)
	Completed func(*Task)
	Failed    func(*Task, error)
	Canceled  func(*Task, bool)
}

type inflight struct {
	task    *Task
	cancel  context.CancelFunc
	dropped bool
	// interrupted by Pause, stays set even if Resume runs before the task returns
	paused bool
}

// Queue runs one task at a time. Tasks interrupted by Pause go to the front
// lane and run before anything enqueued later.
type Queue struct {
	lanes  *queue.LaneQueue[*Task]
	work   WorkFunc
	hooks  QueueHooks
	logger *slog.Logger

	mu      sync.Mutex
	paused  bool
	stopped bool
	pumping bool
	current *inflight
	wg      sync.WaitGroup
}

func NewQueue(work WorkFunc, hooks QueueHooks, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		lanes:  queue.NewLaneQueue[*Task](),
		work:   work,
		hooks:  hooks,
		logger: logger.With("component", "queue"),
	}
}

func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.stopped:
		return QueueStopped
	case q.paused:
		return QueuePaused
	default:
		return QueueRunning
	}
}

// Len is the number of tasks waiting, the running task is not counted
func (q *Queue) Len() int {
	return q.lanes.Len()
}

// Pending returns the waiting tasks in the order they will run
func (q *Queue) Pending() []*Task {
	return q.lanes.Snapshot()
}

// Current returns the running task, if any
func (q *Queue) Current() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return nil, false
	}
	return q.current.task, true
}

// Enqueue adds a task to the tail lane and starts the pump when idle
func (q *Queue) Enqueue(task *Task) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return ErrQueueStopped
	}

	// announced first so Queued is always seen before Started
	if q.hooks.Queued != nil {
		q.hooks.Queued(task)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		if q.hooks.Canceled != nil {
			q.hooks.Canceled(task, false)
		}
		return ErrQueueStopped
	}
	q.lanes.PushBack(task)
	q.kickLocked()
	q.mu.Unlock()
	return nil
}

// Pause stops dispatch and cancels the running task, which is requeued to the front
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.paused {
		return
	}
	q.paused = true
	if q.current != nil {
		q.current.paused = true
		q.current.cancel()
	}
	q.logger.Debug("paused", "waiting", q.lanes.Len())
}

func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || !q.paused {
		return
	}
	q.paused = false
	q.kickLocked()
	q.logger.Debug("resumed", "waiting", q.lanes.Len())
}

// CancelAll drops every waiting task and cancels the running one. Nothing is requeued.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	dropped := q.lanes.Drain()
	if q.current != nil {
		q.current.dropped = true
		q.current.cancel()
	}
	q.paused = false
	q.mu.Unlock()

	for _, task := range dropped {
		if q.hooks.Canceled != nil {
			q.hooks.Canceled(task, false)
		}
	}
	q.logger.Debug("canceled all", "dropped", len(dropped))
}

// Close cancels everything and waits for the pump to exit. The queue cannot be reused.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	dropped := q.lanes.Drain()
	if q.current != nil {
		q.current.dropped = true
		q.current.cancel()
	}
	q.mu.Unlock()

	for _, task := range dropped {
		if q.hooks.Canceled != nil {
			q.hooks.Canceled(task, false)
		}
	}
	q.wg.Wait()
}

func (q *Queue) kickLocked() {
	if q.pumping || q.paused || q.stopped || q.lanes.Len() == 0 {
		return
	}
	q.pumping = true
	q.wg.Add(1)
	go q.pump()
}

func (q *Queue) pump() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.paused || q.stopped {
			q.pumping = false
			q.mu.Unlock()
			return
		}
		task, ok := q.lanes.Pop()
		if !ok {
			q.pumping = false
			q.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		fl := &inflight{task: task, cancel: cancel}
		q.current = fl
		task.Attempt++
		q.mu.Unlock()

		q.runOne(ctx, fl)
		cancel()
	}
}

func (q *Queue) runOne(ctx context.Context, fl *inflight) {
	task := fl.task
	if q.hooks.Started != nil {
		q.hooks.Started(task)
	}

	err := q.work(ctx, task)
	canceled := err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil)

	q.mu.Lock()
	q.current = nil
	requeued := canceled && fl.paused && !fl.dropped && !q.stopped
	if requeued {
		q.lanes.PushFront(task)
	}
	q.mu.Unlock()

	switch {
	case err == nil:
		if q.hooks.Completed != nil {
			q.hooks.Completed(task)
		}
	case canceled:
		q.logger.Debug("task canceled", "path", task.Path, "requeued", requeued)
		if q.hooks.Canceled != nil {
			q.hooks.Canceled(task, requeued)
		}
	default:
		if q.hooks.Failed != nil {
			q.hooks.Failed(task, err)
		}
	}
}
