package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/burrow/internal/directory"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/runtime"
	"github.com/user/burrow/internal/runtime/tools"
	"github.com/user/burrow/internal/types"
)

// ReportTool lets an agent send a message to the main conversation. A report
// identical to the previous one is acknowledged but not delivered again.
type ReportTool struct{ rt *Runtime }

func (t *ReportTool) Name() string { return directory.ReportTool }
func (t *ReportTool) Description() string {
	return "Send a message to the main conversation: results, progress, or a question for the user. Call it once when your task is done."
}
func (t *ReportTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"message": {"type": "string", "description": "What to tell the main conversation"}
	},
	"required": ["message"]
}`)
}

func (t *ReportTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	sess := tools.SessionFrom(ctx)
	if sess == nil || sess.AgentID == "" {
		return "", errors.New("report_to_main is only available to background agents")
	}
	var params struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	msg := strings.TrimSpace(params.Message)
	if msg == "" {
		return "", errors.New("message is required")
	}
	a, ok := t.rt.opts.Directory.Get(types.AgentID(sess.AgentID))
	if !ok {
		return "", ErrAgentNotFound
	}
	if a.LastReport() == msg {
		a.Report(t.rt.opts.Now(), msg)
		return "Already delivered; not sent again.", nil
	}
	// Recorded only once delivered, so a failed attempt can be retried.
	if err := t.rt.opts.Reporter.SubmitAgentReport(ctx, a.ID(), msg); err != nil {
		return "", fmt.Errorf("deliver report: %w", err)
	}
	a.Report(t.rt.opts.Now(), msg)
	a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayToMain, Text: msg})
	events.Emit(t.rt.opts.Bus, events.Event{Type: events.AgentMessage, AgentID: a.ID(), Text: msg})
	return "Delivered to the main conversation.", nil
}

// Tools returns the tools the main conversation uses to manage agents.
func (r *Runtime) Tools() []runtime.Tool {
	return []runtime.Tool{&StartAgent{r}, &MessageAgent{r}, &ListAgents{r}, &StopAgent{r}}
}

// StartAgent creates a background agent.
type StartAgent struct{ rt *Runtime }

func (t *StartAgent) Name() string { return "start_agent" }
func (t *StartAgent) Description() string {
	return "Start a background agent that works on a task on its own and reports back when done. Use it for anything that takes several steps."
}
func (t *StartAgent) Parameters() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"task": {"type": "string", "description": "A complete, self-contained description of the work"},
		"provider": {"type": "string", "description": "Provider identifier; omit for the default"}
	},
	"required": ["task"]
}`)
}

func (t *StartAgent) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Task     string `json:"task"`
		Provider string `json:"provider"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	a, err := t.rt.Start(ctx, params.Task, params.Provider)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Started agent %s. It will report back when it has something to say.", a.ID().Short()), nil
}

// MessageAgent sends a follow-up to an agent, resuming it if it had finished.
type MessageAgent struct{ rt *Runtime }

func (t *MessageAgent) Name() string { return "message_agent" }
func (t *MessageAgent) Description() string {
	return "Send a message to a background agent. A finished agent resumes work with the message."
}
func (t *MessageAgent) Parameters() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string", "description": "Agent ID or its short prefix"},
		"message": {"type": "string", "description": "The message"}
	},
	"required": ["id", "message"]
}`)
}

func (t *MessageAgent) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	a, resumed, err := t.rt.Send(ctx, params.ID, params.Message)
	if err != nil {
		return "", err
	}
	if resumed {
		return fmt.Sprintf("Agent %s resumed with your message.", a.ID().Short()), nil
	}
	return fmt.Sprintf("Message queued for agent %s.", a.ID().Short()), nil
}

// ListAgents shows every agent and its status.
type ListAgents struct{ rt *Runtime }

func (t *ListAgents) Name() string        { return "list_agents" }
func (t *ListAgents) Description() string { return "List background agents with their status and task" }
func (t *ListAgents) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ListAgents) Execute(context.Context, json.RawMessage) (string, error) {
	out := t.rt.Describe()
	if out == "" {
		return "No agents.", nil
	}
	return out, nil
}

// StopAgent ends a running agent after its current step.
type StopAgent struct{ rt *Runtime }

func (t *StopAgent) Name() string        { return "stop_agent" }
func (t *StopAgent) Description() string { return "Stop a running background agent after its current step" }
func (t *StopAgent) Parameters() json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string", "description": "Agent ID or its short prefix"}
	},
	"required": ["id"]
}`)
}

func (t *StopAgent) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	a, err := t.rt.Stop(ctx, params.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Agent %s will stop after its current step.", a.ID().Short()), nil
}
