package events

import (
	"encoding/json"
	"time"

	"github.com/user/burrow/internal/types"
)

type Type string

const (
	MessageAppended    Type = "message-appended"
	StreamStart        Type = "stream-start"
	StreamChunk        Type = "stream-chunk"
	StreamEnd          Type = "stream-end"
	ToolCalled         Type = "tool-call"
	AgentStarted       Type = "agent-started"
	AgentResumed       Type = "agent-resumed"
	AgentMessage       Type = "agent-message"
	AgentUpdated       Type = "agent-updated"
	AgentCompleted     Type = "agent-completed"
	AgentRemoved       Type = "agent-removed"
	CompactionStart    Type = "compaction-start"
	CompactionComplete Type = "compaction-complete"
	QueueChanged       Type = "queue-changed"
	ConversationClear  Type = "conversation-cleared"
)

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	Type         Type            `json:"type"`
	At           time.Time       `json:"at"`
	AgentID      types.AgentID   `json:"agent_id,omitempty"`
	Role         string          `json:"role,omitempty"`
	Text         string          `json:"text,omitempty"`
	Tool         string          `json:"tool,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	MessageIndex int             `json:"message_index,omitempty"`
	Offset       int             `json:"offset,omitempty"`
	QueueLength  int             `json:"queue_length,omitempty"`
	QueuePreview []string        `json:"queue_preview,omitempty"`
	Scope        string          `json:"scope,omitempty"`
}

// EventBus is the process-wide bus.
type EventBus = Bus[Event]

func New() *EventBus {
	return NewBus[Event]()
}

// Emit stamps ev with the current time if unset and publishes it. A nil bus is a no-op.
func Emit(b *EventBus, ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.Publish(ev)
}
