package models

import (
	"sync"
	"time"
)

// EventType classifies operator-visible orchestrator events.
type EventType string

const (
	EventDeployCompleted EventType = "DEPLOY_COMPLETED"
	EventDeployFailed    EventType = "DEPLOY_FAILED"
	EventDeployPartial   EventType = "DEPLOY_PARTIAL"
	EventDeployAborted   EventType = "DEPLOY_ABORTED"
	EventWorkerCrashed   EventType = "WORKER_CRASHED"
	EventWorkerRestarted EventType = "WORKER_RESTARTED"
	EventSupervisorFatal EventType = "SUPERVISOR_FATAL"
)

// Event is one entry in the orchestrator's event history.
type Event struct {
	Type    EventType `json:"type"`
	Worker  int       `json:"worker"` // -1 when the event is not tied to one instance
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// EventLog is a bounded in-memory history of events, surfaced through the
// status API. Oldest entries are dropped once the cap is reached.
type EventLog struct {
	mu     sync.Mutex
	max    int
	events []Event
}

// NewEventLog creates an event log holding at most max entries.
func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = 100
	}
	return &EventLog{max: max}
}

// Record appends an event, evicting the oldest entry when full.
func (l *EventLog) Record(t EventType, worker int, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Type: t, Worker: worker, Message: message, Time: time.Now()})
	if len(l.events) > l.max {
		l.events = l.events[len(l.events)-l.max:]
	}
}

// List returns a copy of the recorded events, oldest first.
func (l *EventLog) List() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
