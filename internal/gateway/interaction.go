package gateway

import (
	"time"

	"github.com/user/burrow/internal/types"
)

// Kind distinguishes typed user input from agent reports.
type Kind string

const (
	KindUser  Kind = "user"
	KindAgent Kind = "agent"
)

// Interaction is one pending input for the main conversation. It lives only
// in memory.
type Interaction struct {
	ID      types.InteractionID
	Kind    Kind
	Content string
	At      time.Time
	AgentID types.AgentID
	Source  types.Origin

	// OnComplete receives the final assistant reply. It may be nil.
	OnComplete func(reply string)
}

// NewUserInteraction wraps text typed by the user on some channel.
func NewUserInteraction(content string, source types.Origin) *Interaction {
	return &Interaction{
		ID:      types.NewInteractionID(),
		Kind:    KindUser,
		Content: content,
		At:      time.Now(),
		Source:  source,
	}
}

// NewAgentReport wraps a report sent by a background agent.
func NewAgentReport(agentID types.AgentID, content string) *Interaction {
	return &Interaction{
		ID:      types.NewInteractionID(),
		Kind:    KindAgent,
		Content: content,
		At:      time.Now(),
		AgentID: agentID,
		Source:  types.NewOrigin("agent", string(agentID)),
	}
}

// FromAgent reports whether the interaction was delivered by an agent.
func (it *Interaction) FromAgent() bool {
	return it.Kind == KindAgent
}
