package events

import "time"

// Event is the base interface for all pipeline events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicPipeline = "pipeline"
	TopicTask     = "task"
)

// Event type constants
const (
	EventTypeModeChanged      = "pipeline.mode_changed"
	EventTypeTaskStarted      = "task.started"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeGateEvaluated    = "pipeline.gate_evaluated"
	EventTypeEscalationRaised = "pipeline.escalation_raised"
	EventTypeRunFinished      = "pipeline.run_finished"
)

// ModeChangedEvent is published when the coordinator transitions modes.
type ModeChangedEvent struct {
	From      string
	To        string
	Task      string
	Timestamp time.Time
}

func (e ModeChangedEvent) EventType() string { return EventTypeModeChanged }
func (e ModeChangedEvent) TaskID() string    { return e.Task }

// TaskStartedEvent is published when a task enters planning.
type TaskStartedEvent struct {
	ID        string
	Title     string
	Wave      int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task finishes successfully.
type TaskCompletedEvent struct {
	ID        string
	Output    string
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task is marked failed.
type TaskFailedEvent struct {
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// GateEvaluatedEvent is published for every quality-gate check.
type GateEvaluatedEvent struct {
	Task      string
	GateName  string
	Passed    bool
	Action    string
	Reason    string
	Timestamp time.Time
}

func (e GateEvaluatedEvent) EventType() string { return EventTypeGateEvaluated }
func (e GateEvaluatedEvent) TaskID() string    { return e.Task }

// EscalationRaisedEvent is published when the run blocks on a human decision.
type EscalationRaisedEvent struct {
	Task      string
	Reason    string
	Timestamp time.Time
}

func (e EscalationRaisedEvent) EventType() string { return EventTypeEscalationRaised }
func (e EscalationRaisedEvent) TaskID() string    { return e.Task }

// RunFinishedEvent is published once, when the run reaches a terminal mode.
type RunFinishedEvent struct {
	FinalMode string
	Completed int
	Failed    int
	Err       string
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return "" }
