package upload

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) of(types ...EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, e := range l.events {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
			}
		}
	}
	return out
}

func (l *eventLog) count(t EventType) int {
	return len(l.of(t))
}

func newOrchestratorFixture(t *testing.T) (*machineFixture, *Orchestrator, *eventLog) {
	t.Helper()
	fx := newMachineFixture(t, 5*MiB)
	orch := NewOrchestrator(fx.machine, fx.sessions, fx.store, OrchestratorOptions{AutoCompleteSession: true})
	t.Cleanup(orch.Close)

	log := &eventLog{}
	orch.AddObserver(EventFunc(log.record))
	return fx, orch, log
}

func TestOrchestrator_UploadsBatchAndCompletesSessionOnce(t *testing.T) {
	fx, orch, log := newOrchestratorFixture(t)
	a := writeTestFile(t, fx.dir, "a.bin", 6*MiB)
	b := writeTestFile(t, fx.dir, "b.bin", 2*MiB)

	require.NoError(t, orch.EnqueueFile("alice", a))
	require.NoError(t, orch.EnqueueFile("alice", b))

	require.Eventually(t, func() bool { return log.count(EventSessionCompleted) == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, log.count(EventCompleted))
	assert.EqualValues(t, 1, fx.remote.completeCalls.Load())
	assert.Zero(t, orch.Pending())

	files := orch.Files()
	require.Len(t, files, 2)
	for _, f := range files {
		assert.Equal(t, FileCompleted, f.Status)
		assert.Equal(t, 100.0, f.Progress.Percent)
	}

	// nothing left to resume
	assert.Empty(t, fx.store.Load())
}

func TestOrchestrator_MissingFileDoesNotStopBatch(t *testing.T) {
	fx, orch, log := newOrchestratorFixture(t)
	good := writeTestFile(t, fx.dir, "good.bin", 1*MiB)
	missing := filepath.Join(fx.dir, "missing.bin")

	err := orch.EnqueueFile("alice", missing)
	require.ErrorIs(t, err, ErrFileNotFound)
	require.NoError(t, orch.EnqueueFile("alice", good))

	require.Eventually(t, func() bool { return log.count(EventCompleted) == 1 }, 5*time.Second, 10*time.Millisecond)

	failed := log.of(EventFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, missing, failed[0].Path)

	progress := log.of(EventProgress)
	require.NotEmpty(t, progress)
	assert.Equal(t, missing, progress[0].Path)
	assert.Zero(t, progress[0].Progress.Percent)

	state, ok := orch.File(missing)
	require.True(t, ok)
	assert.Equal(t, FileFailed, state.Status)
}

func TestOrchestrator_RejectsDuplicatePath(t *testing.T) {
	fx, orch, _ := newOrchestratorFixture(t)
	path := writeTestFile(t, fx.dir, "a.bin", 1*MiB)

	release := make(chan struct{})
	fx.remote.setBeforePut(func(ctx context.Context, file *fakeFile, part int) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	defer close(release)

	require.NoError(t, orch.EnqueueFile("alice", path))
	err := orch.EnqueueFile("alice", filepath.Join(filepath.Dir(path), ".", "A.BIN"))
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestOrchestrator_PauseResumeRunsInterruptedFileFirst(t *testing.T) {
	fx, orch, log := newOrchestratorFixture(t)
	first := writeTestFile(t, fx.dir, "first.bin", 12*MiB)
	second := writeTestFile(t, fx.dir, "second.bin", 1*MiB)

	blocked := make(chan struct{})
	var once sync.Once
	fx.remote.setBeforePut(func(ctx context.Context, file *fakeFile, part int) error {
		if file.name == "first.bin" && part == 2 {
			once.Do(func() { close(blocked) })
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, orch.EnqueueFile("alice", first))
	require.NoError(t, orch.EnqueueFile("alice", second))

	<-blocked
	orch.PauseAll()
	require.Eventually(t, func() bool {
		s, _ := orch.File(first)
		return s.Status == FilePaused
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, QueuePaused, orch.State())
	canceled := log.of(EventCanceled)
	require.Len(t, canceled, 1)
	assert.True(t, canceled[0].Requeued)
	assert.Equal(t, []string{"first.bin#1"}, fx.remote.putLog())

	fx.remote.setBeforePut(nil)
	orch.ResumeAll()

	require.Eventually(t, func() bool { return log.count(EventCompleted) == 2 }, 5*time.Second, 10*time.Millisecond)

	// first.bin finishes before second.bin starts
	var sequence []string
	for _, e := range log.of(EventStarted, EventCompleted) {
		sequence = append(sequence, string(e.Type)+":"+filepath.Base(e.Path))
	}
	assert.Equal(t, []string{
		"started:first.bin",
		"started:first.bin",
		"completed:first.bin",
		"started:second.bin",
		"completed:second.bin",
	}, sequence)

	assert.Equal(t, []string{"first.bin#1", "first.bin#2", "first.bin#3", "second.bin#1"}, fx.remote.putLog())
	require.Eventually(t, func() bool { return fx.remote.resumeCalls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, fx.remote.pauseCalls.Load())
}

func TestOrchestrator_ResumeWhileInterruptedPartUnwinds(t *testing.T) {
	fx, orch, log := newOrchestratorFixture(t)
	first := writeTestFile(t, fx.dir, "first.bin", 12*MiB)
	second := writeTestFile(t, fx.dir, "second.bin", 1*MiB)

	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fx.remote.setBeforePut(func(ctx context.Context, file *fakeFile, part int) error {
		if file.name != "first.bin" || part != 2 {
			return nil
		}
		hit := false
		once.Do(func() { hit = true })
		if !hit {
			return nil
		}
		close(blocked)
		<-ctx.Done()
		<-release
		return ctx.Err()
	})

	require.NoError(t, orch.EnqueueFile("alice", first))
	require.NoError(t, orch.EnqueueFile("alice", second))

	<-blocked
	orch.PauseAll()
	orch.ResumeAll()
	close(release)

	require.Eventually(t, func() bool { return log.count(EventCompleted) == 2 }, 5*time.Second, 10*time.Millisecond)

	canceled := log.of(EventCanceled)
	require.Len(t, canceled, 1)
	assert.True(t, canceled[0].Requeued)
	assert.Zero(t, log.count(EventFailed))

	var completed []string
	for _, e := range log.of(EventCompleted) {
		completed = append(completed, filepath.Base(e.Path))
	}
	assert.Equal(t, []string{"first.bin", "second.bin"}, completed)
	assert.Equal(t, []string{"first.bin#1", "first.bin#2", "first.bin#3", "second.bin#1"}, fx.remote.putLog())
}

func TestOrchestrator_CancelAllReportsCanceled(t *testing.T) {
	fx, orch, log := newOrchestratorFixture(t)
	a := writeTestFile(t, fx.dir, "a.bin", 1*MiB)
	b := writeTestFile(t, fx.dir, "b.bin", 1*MiB)

	blocked := make(chan struct{})
	var once sync.Once
	fx.remote.setBeforePut(func(ctx context.Context, file *fakeFile, part int) error {
		once.Do(func() { close(blocked) })
		<-ctx.Done()
		return ctx.Err()
	})

	require.NoError(t, orch.EnqueueFile("alice", a))
	require.NoError(t, orch.EnqueueFile("alice", b))
	<-blocked

	orch.CancelAll()
	require.Eventually(t, func() bool { return log.count(EventCanceled) == 2 }, 5*time.Second, 10*time.Millisecond)

	for _, e := range log.of(EventCanceled) {
		assert.False(t, e.Requeued)
	}
	assert.Zero(t, orch.Pending())
	assert.Zero(t, log.count(EventFailed))
	assert.Zero(t, fx.remote.completeCalls.Load())

	// canceled paths may be enqueued again
	fx.remote.setBeforePut(nil)
	require.NoError(t, orch.EnqueueFile("alice", a))
	require.Eventually(t, func() bool { return log.count(EventCompleted) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_RestorePending(t *testing.T) {
	fx, orch, log := newOrchestratorFixture(t)
	path := writeTestFile(t, fx.dir, "resume.bin", 6*MiB)
	gone := filepath.Join(fx.dir, "gone.bin")

	job := NewJob(gone, 6*MiB, 5*MiB)
	job.FileID = "f-old"
	require.NoError(t, fx.store.Upsert(gone, EntryFromJob(job)))

	live := NewJob(path, 6*MiB, 5*MiB)
	live.FileID = "f-missing-remotely"
	require.NoError(t, fx.store.Upsert(path, EntryFromJob(live)))

	n, err := orch.RestorePending("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool { return log.count(EventCompleted) == 1 }, 5*time.Second, 10*time.Millisecond)
	_, ok := fx.store.Get(gone)
	assert.False(t, ok)
}

func TestOrchestrator_ObserverRemoval(t *testing.T) {
	fx, orch, _ := newOrchestratorFixture(t)
	path := writeTestFile(t, fx.dir, "a.bin", 1*MiB)

	var mu sync.Mutex
	queued := 0
	remove := orch.AddObserver(ObserverFuncs{Queued: func(string) {
		mu.Lock()
		queued++
		mu.Unlock()
	}})
	remove()

	require.NoError(t, orch.EnqueueFile("alice", path))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Zero(t, queued)
	mu.Unlock()
}
