package gateway

import (
	"fmt"

	"github.com/user/burrow/internal/state"
	"github.com/user/burrow/pkg/llm"
)

const reportInstruction = "Relay this information to the user naturally, in your own words. " +
	"Do not speculate about the agent's status and do not mention this note."

// FrameReport is what the model sees for an agent report.
func FrameReport(m state.Message) string {
	return fmt.Sprintf("[Report from background agent %s]\n%s\n\n(%s)", m.AgentID.Short(), m.Content, reportInstruction)
}

// ToLLM converts the transcript into the model's view. Agent reports become
// framed user turns.
func ToLLM(msgs []state.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case state.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		case state.RoleAgent:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: FrameReport(m)})
		default:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		}
	}
	return out
}

// ToMessage is the transcript entry recorded for an interaction.
func ToMessage(it *Interaction) state.Message {
	m := state.Message{Role: state.RoleUser, Content: it.Content, At: it.At, Source: it.Source}
	if it.FromAgent() {
		m.Role = state.RoleAgent
		m.AgentID = it.AgentID
	}
	return m
}
