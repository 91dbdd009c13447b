package upload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowSessions struct {
	starts    atomic.Int32
	completes atomic.Int32
	failNext  atomic.Bool
}

func (s *slowSessions) StartSession(ctx context.Context, userID string) (string, error) {
	s.starts.Add(1)
	return "s-" + userID, nil
}

func (s *slowSessions) PauseSession(ctx context.Context, sessionID string) error  { return nil }
func (s *slowSessions) ResumeSession(ctx context.Context, sessionID string) error { return nil }

func (s *slowSessions) CompleteSession(ctx context.Context, sessionID string) error {
	time.Sleep(10 * time.Millisecond)
	if s.failNext.CompareAndSwap(true, false) {
		return errors.New("unavailable")
	}
	s.completes.Add(1)
	return nil
}

func TestSessionCoordinator_StartIsIdempotent(t *testing.T) {
	remote := &slowSessions{}
	c := NewSessionCoordinator(remote, nil)

	id1, err := c.StartOrReuse(context.Background(), "alice")
	require.NoError(t, err)
	id2, err := c.StartOrReuse(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.EqualValues(t, 1, remote.starts.Load())

	s, ok := c.Active("alice")
	require.True(t, ok)
	assert.Equal(t, SessionCreated, s.Status)
}

func TestSessionCoordinator_PauseResume(t *testing.T) {
	c := NewSessionCoordinator(&slowSessions{}, nil)
	id, err := c.StartOrReuse(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, c.Pause(context.Background(), id))
	s, _ := c.Active("alice")
	assert.Equal(t, SessionPaused, s.Status)

	require.NoError(t, c.Resume(context.Background(), id))
	s, _ = c.Active("alice")
	assert.Equal(t, SessionResumed, s.Status)
}

func TestSessionCoordinator_CompleteFiresOnceUnderConcurrency(t *testing.T) {
	remote := &slowSessions{}
	c := NewSessionCoordinator(remote, nil)
	id, err := c.StartOrReuse(context.Background(), "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Complete(context.Background(), id))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, remote.completes.Load())
	_, ok := c.Active("alice")
	assert.False(t, ok, "completed session is no longer active")

	// the next start opens a fresh session
	_, err = c.StartOrReuse(context.Background(), "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, remote.starts.Load())
}

func TestSessionCoordinator_FailedCompleteCanBeRetried(t *testing.T) {
	remote := &slowSessions{}
	remote.failNext.Store(true)
	c := NewSessionCoordinator(remote, nil)
	id, err := c.StartOrReuse(context.Background(), "alice")
	require.NoError(t, err)

	require.Error(t, c.Complete(context.Background(), id))
	s, ok := c.Active("alice")
	require.True(t, ok)
	assert.Equal(t, SessionCreated, s.Status)

	require.NoError(t, c.Complete(context.Background(), id))
	assert.EqualValues(t, 1, remote.completes.Load())
}
