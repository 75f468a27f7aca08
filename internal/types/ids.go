// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type AgentID string
type MessageID string
type InteractionID string
type EventID string
type TaskID string

// Origin identifies the channel an interaction came from, e.g. "telegram:42" or "http".
type Origin string

func NewAgentID() AgentID {
	return AgentID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewInteractionID() InteractionID {
	return InteractionID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewTaskID() TaskID {
	return TaskID(uuid.New().String())
}

func NewOrigin(parts ...string) Origin {
	return Origin(strings.Join(parts, ":"))
}

// Short returns the first eight characters of an agent ID for display.
func (id AgentID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}
