package directory

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/user/burrow/pkg/llm"
)

// DisplayKind classifies a display entry.
type DisplayKind string

const (
	DisplayTask     DisplayKind = "task"
	DisplayThinking DisplayKind = "thinking"
	DisplayToolCall DisplayKind = "tool_call"
	DisplayFromMain DisplayKind = "from_main"
	DisplayToMain   DisplayKind = "to_main"
	DisplayNotice   DisplayKind = "notice"
	DisplayError    DisplayKind = "error"
)

// Prefixes of synthetic user turns.
const (
	FromMainPrefix  = "[message from main] "
	InterruptedTurn = "[system] You were interrupted by a restart. Continue your task from where you left off."
)

// ReportTool is the name of the tool an agent uses to talk to the main
// conversation. Display reconstruction shows its calls as outgoing messages.
const ReportTool = "report_to_main"

// DisplayEntry is one line of an agent's detail log.
type DisplayEntry struct {
	Kind   DisplayKind     `json:"kind"`
	Text   string          `json:"text,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	At     time.Time       `json:"at"`
}

// BuildDisplay replays history into display entries, in history order.
func BuildDisplay(history []llm.Message) []DisplayEntry {
	var (
		out    []DisplayEntry
		byCall = make(map[string]int)
	)
	for i, m := range history {
		switch m.Role {
		case llm.RoleUser:
			switch {
			case i == 0:
				out = append(out, DisplayEntry{Kind: DisplayTask, Text: m.Content})
			case strings.HasPrefix(m.Content, FromMainPrefix):
				out = append(out, DisplayEntry{Kind: DisplayFromMain, Text: strings.TrimPrefix(m.Content, FromMainPrefix)})
			default:
				out = append(out, DisplayEntry{Kind: DisplayNotice, Text: m.Content})
			}
		case llm.RoleAssistant:
			if m.Content != "" {
				out = append(out, DisplayEntry{Kind: DisplayThinking, Text: m.Content})
			}
			for _, call := range m.Tools {
				if call.Function.Name == ReportTool {
					out = append(out, DisplayEntry{Kind: DisplayToMain, Text: ReportText(call.Function.Arguments)})
					continue
				}
				byCall[call.ID] = len(out)
				out = append(out, DisplayEntry{Kind: DisplayToolCall, Tool: call.Function.Name, Input: call.Function.Arguments})
			}
		case llm.RoleTool:
			for _, r := range m.Results {
				if j, ok := byCall[r.CallID]; ok {
					out[j].Output = r.Content
				}
			}
		}
	}
	return out
}

// ReportText extracts the message argument of a report_to_main call.
func ReportText(args json.RawMessage) string {
	var p struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return string(args)
	}
	return p.Message
}
