package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionPaused    SessionStatus = "paused"
	SessionResumed   SessionStatus = "resumed"
	SessionCompleted SessionStatus = "completed"
)

type Session struct {
	ID     string        `json:"id"`
	UserID string        `json:"userId"`
	Status SessionStatus `json:"status"`
}

// SessionCoordinator tracks one open session per user and forwards
// session transitions to the remote service without retrying.
type SessionCoordinator struct {
	remote SessionService
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // session id -> session
	active   map[string]string   // user id -> session id

	// held across the remote call so completion happens once per session
	completeMu sync.Mutex
}

func NewSessionCoordinator(remote SessionService, logger *slog.Logger) *SessionCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCoordinator{
		remote:   remote,
		logger:   logger.With("component", "session"),
		sessions: make(map[string]*Session),
		active:   make(map[string]string),
	}
}

// StartOrReuse returns the user's open session, starting one if needed.
// The remote start call is idempotent too, so a lost response is harmless.
func (c *SessionCoordinator) StartOrReuse(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.active[userID]; ok {
		if s := c.sessions[id]; s != nil && s.Status != SessionCompleted {
			return id, nil
		}
	}

	id, err := c.remote.StartSession(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}

	if s, ok := c.sessions[id]; ok && s.Status == SessionCompleted {
		// server handed back a session we already closed
		c.logger.Warn("server reused a completed session", "session", id)
	}
	c.sessions[id] = &Session{ID: id, UserID: userID, Status: SessionCreated}
	c.active[userID] = id
	c.logger.Debug("session started", "session", id, "user", userID)
	return id, nil
}

func (c *SessionCoordinator) Pause(ctx context.Context, sessionID string) error {
	if err := c.remote.PauseSession(ctx, sessionID); err != nil {
		return fmt.Errorf("pause session: %w", err)
	}
	c.setStatus(sessionID, SessionPaused)
	return nil
}

func (c *SessionCoordinator) Resume(ctx context.Context, sessionID string) error {
	if err := c.remote.ResumeSession(ctx, sessionID); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	c.setStatus(sessionID, SessionResumed)
	return nil
}

// Complete closes the session. Concurrent and repeated calls reach the remote at most once
// per session, a failed call leaves the session open for another attempt.
func (c *SessionCoordinator) Complete(ctx context.Context, sessionID string) error {
	c.completeMu.Lock()
	defer c.completeMu.Unlock()

	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	done := ok && s.Status == SessionCompleted
	c.mu.Unlock()
	if done {
		return nil
	}

	if err := c.remote.CompleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		s.Status = SessionCompleted
		if c.active[s.UserID] == sessionID {
			delete(c.active, s.UserID)
		}
	} else {
		c.sessions[sessionID] = &Session{ID: sessionID, Status: SessionCompleted}
	}
	c.logger.Info("session completed", "session", sessionID)
	return nil
}

// Active returns the open session of a user
func (c *SessionCoordinator) Active(userID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.active[userID]
	if !ok {
		return Session{}, false
	}
	s := c.sessions[id]
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns a snapshot of every known session
func (c *SessionCoordinator) Sessions() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, *s)
	}
	return out
}

func (c *SessionCoordinator) setStatus(sessionID string, status SessionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[sessionID]; ok && s.Status != SessionCompleted {
		s.Status = status
	}
}
