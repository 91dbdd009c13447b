package upload

import (
	"time"
)

type EventType string

const (
	EventQueued           EventType = "queued"
	EventStarted          EventType = "started"
	EventProgress         EventType = "progress"
	EventCompleted        EventType = "completed"
	EventFailed           EventType = "failed"
	EventCanceled         EventType = "canceled"
	EventSessionCompleted EventType = "session_completed"
)

// Observer receives the lifecycle of every file handled by the orchestrator.
// Callbacks run on the orchestrator's goroutines and must not block.
type Observer interface {
	OnQueued(path string)
	OnStarted(path string)
	OnProgress(path string, p Progress)
	OnCompleted(path string)
	OnFailed(path string, err error)
	OnCanceled(path string, requeued bool)
}

// SessionObserver is optionally implemented by observers interested in session completion
type SessionObserver interface {
	OnSessionCompleted(userID, sessionID string)
}

// ObserverFuncs adapts plain functions to Observer, nil fields are skipped
type ObserverFuncs struct {
	Queued           func(path string)
	Started          func(path string)
	Progress         func(path string, p Progress)
	Completed        func(path string)
	Failed           func(path string, err error)
	Canceled         func(path string, requeued bool)
	SessionCompleted func(userID, sessionID string)
}

func (f ObserverFuncs) OnQueued(path string) {
	if f.Queued != nil {
		f.Queued(path)
	}
}

func (f ObserverFuncs) OnStarted(path string) {
	if f.Started != nil {
		f.Started(path)
	}
}

func (f ObserverFuncs) OnProgress(path string, p Progress) {
	if f.Progress != nil {
		f.Progress(path, p)
	}
}

func (f ObserverFuncs) OnCompleted(path string) {
	if f.Completed != nil {
		f.Completed(path)
	}
}

func (f ObserverFuncs) OnFailed(path string, err error) {
	if f.Failed != nil {
		f.Failed(path, err)
	}
}

func (f ObserverFuncs) OnCanceled(path string, requeued bool) {
	if f.Canceled != nil {
		f.Canceled(path, requeued)
	}
}

func (f ObserverFuncs) OnSessionCompleted(userID, sessionID string) {
	if f.SessionCompleted != nil {
		f.SessionCompleted(userID, sessionID)
	}
}

// ===================================================================================================

// Event is the serializable form of an observer callback
type Event struct {
	Type      EventType `json:"type"`
	Path      string    `json:"path,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	Error     string    `json:"error,omitempty"`
	Requeued  bool      `json:"requeued,omitempty"`
	Time      time.Time `json:"time"`
}

// EventFunc turns every callback into an Event
type EventFunc func(Event)

func (f EventFunc) emit(e Event) {
	e.Time = time.Now().UTC()
	f(e)
}

func (f EventFunc) OnQueued(path string)  { f.emit(Event{Type: EventQueued, Path: path}) }
func (f EventFunc) OnStarted(path string) { f.emit(Event{Type: EventStarted, Path: path}) }
func (f EventFunc) OnCompleted(path string) {
	f.emit(Event{Type: EventCompleted, Path: path})
}

func (f EventFunc) OnProgress(path string, p Progress) {
	f.emit(Event{Type: EventProgress, Path: path, Progress: &p})
}

func (f EventFunc) OnFailed(path string, err error) {
	e := Event{Type: EventFailed, Path: path}
	if err != nil {
		e.Error = err.Error()
	}
	f.emit(e)
}

func (f EventFunc) OnCanceled(path string, requeued bool) {
	f.emit(Event{Type: EventCanceled, Path: path, Requeued: requeued})
}

func (f EventFunc) OnSessionCompleted(userID, sessionID string) {
	f.emit(Event{Type: EventSessionCompleted, UserID: userID, SessionID: sessionID})
}

var (
	_ Observer        = ObserverFuncs{}
	_ SessionObserver = ObserverFuncs{}
	_ Observer        = EventFunc(nil)
	_ SessionObserver = EventFunc(nil)
)
