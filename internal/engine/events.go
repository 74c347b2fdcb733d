package engine

import (
	"time"
)

// EventType captures high level lifecycle notifications emitted by the
// supervisor and the close orchestrator.
type EventType string

const (
	EventTypeStarted     EventType = "started"
	EventTypeStopped     EventType = "stopped"
	EventTypeFailed      EventType = "failed"
	EventTypeClosing     EventType = "closing"
	EventTypeRestarting  EventType = "restarting"
	EventTypeTerminating EventType = "terminating"
)

// Event represents a single lifecycle notification.
type Event struct {
	Timestamp time.Time
	Helper    string
	Type      EventType
	Message   string
	PID       int
	Reason    string
	Err       error
}

const (
	ReasonUserStart      = "start"
	ReasonStaleHandle    = "stale_handle"
	ReasonUserStop       = "stop"
	ReasonResolveFailed  = "resolve_failed"
	ReasonSpawnFailed    = "spawn_failed"
	ReasonKillFailed     = "kill_failed"
	ReasonCloseRequested = "close_requested"
	ReasonRelaunch       = "relaunch_on_close"
	ReasonRestartFailed  = "restart_failed"
	ReasonShutdown       = "shutdown"
)

func sendEvent(events chan<- Event, helper string, t EventType, message string, pid int, reason string, err error) {
	if events == nil {
		return
	}
	events <- Event{
		Timestamp: time.Now(),
		Helper:    helper,
		Type:      t,
		Message:   message,
		PID:       pid,
		Reason:    reason,
		Err:       err,
	}
}
