package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK EVENTS
// =============================================================================

type TaskCreatedPayload struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskStartedPayload struct {
	Title  string `json:"title"`
	Owner  string `json:"owner"`
	Forced bool   `json:"forced,omitempty"`
	Resume bool   `json:"resume,omitempty"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskCompletedPayload struct {
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskNeedsReviewPayload struct {
	Question string `json:"question"`
	Action   string `json:"action,omitempty"`
}

func (TaskNeedsReviewPayload) EventType() EventType { return EventTaskNeedsReview }

// TaskWaitingPayload is published when the agent parks a task on a question.
type TaskWaitingPayload struct {
	Question string `json:"question"`
}

func (TaskWaitingPayload) EventType() EventType { return EventTaskWaiting }

type TaskInputReceivedPayload struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text,omitempty"`
}

func (TaskInputReceivedPayload) EventType() EventType { return EventTaskInputReceived }

type TaskRequeuedPayload struct {
	From   string `json:"from"`
	Reason string `json:"reason"`
}

func (TaskRequeuedPayload) EventType() EventType { return EventTaskRequeued }

// =============================================================================
// APPROVAL EVENTS
// =============================================================================

type ApprovalRequestedPayload struct {
	Action        string         `json:"action"`
	Args          map[string]any `json:"args,omitempty"`
	Description   string         `json:"description"`
	Justification string         `json:"justification,omitempty"`
}

func (ApprovalRequestedPayload) EventType() EventType { return EventApprovalRequested }

type ApprovalResolvedPayload struct {
	Action   string `json:"action"`
	Decision string `json:"decision"`
}

func (ApprovalResolvedPayload) EventType() EventType { return EventApprovalResolved }

// =============================================================================
// PERMISSION EVENTS
// =============================================================================

type RuleAddedPayload struct {
	List string `json:"list"`
	Rule string `json:"rule"`
}

func (RuleAddedPayload) EventType() EventType { return EventRuleAdded }

type RuleRemovedPayload struct {
	List string `json:"list"`
	Rule string `json:"rule"`
}

func (RuleRemovedPayload) EventType() EventType { return EventRuleRemoved }

// =============================================================================
// AGENT EVENTS
// =============================================================================

type AgentStatusPayload struct {
	Status    string `json:"status"`
	TaskID    string `json:"task_id,omitempty"`
	Processed int64  `json:"processed"`
	Errors    int64  `json:"errors"`
}

func (AgentStatusPayload) EventType() EventType { return EventAgentStatus }

// =============================================================================
// GRAPH EVENTS
// =============================================================================

// Call phases shared by model and tool events.
const (
	PhaseStarted   = "started"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

type ModelCallPayload struct {
	Phase        string `json:"phase"`
	Model        string `json:"model,omitempty"`
	MessageCount int    `json:"message_count,omitempty"`
	TokensInput  int    `json:"tokens_input,omitempty"`
	TokensOutput int    `json:"tokens_output,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (ModelCallPayload) EventType() EventType { return EventModelCall }

type ToolCallPayload struct {
	Phase     string `json:"phase"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

// NewTaskEvent creates a typed event scoped to a task.
func NewTaskEvent(source EventSource, taskID string, payload EventPayload) Event {
	e := NewTypedEvent(source, payload)
	e.TaskID = taskID
	return e
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
