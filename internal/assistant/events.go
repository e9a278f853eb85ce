// ABOUTME: Closed set of events produced by a streaming assistant run
// ABOUTME: Consumers type-switch over the four variants

package assistant

import "time"

// RunStatus is the backend-reported state of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// IsTerminal reports whether the run can make no further progress.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	}
	return false
}

// Event is one item of a run's event stream. The set of implementations is closed.
type Event interface {
	isEvent()
}

// RunStatusEvent reports a run state transition.
type RunStatusEvent struct {
	RunID     string
	Status    RunStatus
	LastError string
}

// MessageCreatedEvent marks the start of a new message in the thread.
type MessageCreatedEvent struct {
	MessageID string
	Role      string
	CreatedAt time.Time
}

// MessageDeltaEvent carries an incremental text fragment of a message.
type MessageDeltaEvent struct {
	MessageID string
	Text      string
}

// RequiredActionEvent lists the tool calls the run is waiting on.
type RequiredActionEvent struct {
	RunID     string
	ToolCalls []ToolCall
}

// ToolCall is a single function invocation requested by the run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

func (RunStatusEvent) isEvent()      {}
func (MessageCreatedEvent) isEvent() {}
func (MessageDeltaEvent) isEvent()   {}
func (RequiredActionEvent) isEvent() {}
