package context

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// MainPromptData feeds MainPrompt.
type MainPromptData struct {
	Time      string
	Tools     []string
	Memory    string
	WorkDir   string
	AgentList string
}

// AgentPromptData feeds AgentPrompt.
type AgentPromptData struct {
	Time    string
	AgentID string
	Task    string
	WorkDir string
	Tools   []string
}

// MainPrompt is the built-in system prompt for the main conversation. It uses
// text/template syntax with MainPromptData fields.
const MainPrompt = `You are Burrow, a personal AI assistant that runs as a self-hosted service.

## Current Context

- Time: {{.Time}}
- Working directory: {{.WorkDir}}
- Available tools: {{join .Tools ", "}}
{{- if .Memory}}

## Memories

These are facts and preferences you've been asked to remember:

{{.Memory}}
{{- end}}
{{- if .AgentList}}

## Current Agents

{{.AgentList}}
{{- end}}

## Background Agents

You can delegate longer work to background agents with ` + "`start_agent`" + `. An agent works on its own with file and command tools and sends you a report when it is done. Reports arrive as messages in this conversation; relay what matters to the user naturally, in your own words.

- Give each agent one clear, self-contained task.
- Use ` + "`message_agent`" + ` to add instructions to a running or finished agent.
- Use ` + "`list_agents`" + ` to check on agents before starting duplicates.
- Use ` + "`stop_agent`" + ` when an agent is no longer needed.

Do the work yourself when it takes one or two tool calls. Delegate when it takes many.

## Response Style

- Be concise and direct.
- Use markdown when it helps readability.
- If a tool call fails, explain what happened and try another approach.
- Don't repeat the user's question back to them.
`

// AgentPrompt is the built-in system prompt for a background agent.
const AgentPrompt = `You are a background agent ({{.AgentID}}) working for the Burrow assistant.

- Time: {{.Time}}
- Working directory: {{.WorkDir}}
- Available tools: {{join .Tools ", "}}

## Task

{{.Task}}

## How to work

- Work step by step with your tools. Check the result of every call.
- Read a file before you write to it.
- Stay inside the working directory.
- When you have finished, call ` + "`report_to_main`" + ` exactly once with a clear summary of what you found or did. The main assistant only sees what you report.
- If the task cannot be done, report that and explain why.
- Messages from the main assistant may arrive while you work. They start with [message from main].
`

var funcs = template.FuncMap{
	"join": func(items []string, sep string) string {
		var b bytes.Buffer
		for i, s := range items {
			if i > 0 {
				b.WriteString(sep)
			}
			b.WriteString(s)
		}
		return b.String()
	},
}

var (
	mainTmpl  = template.Must(template.New("main").Funcs(funcs).Parse(MainPrompt))
	agentTmpl = template.Must(template.New("agent").Funcs(funcs).Parse(AgentPrompt))
)

// RenderMain renders the main system prompt. A non-empty custom template
// replaces MainPrompt.
func RenderMain(custom string, data MainPromptData) (string, error) {
	tmpl := mainTmpl
	if custom != "" {
		var err error
		tmpl, err = template.New("custom").Funcs(funcs).Parse(custom)
		if err != nil {
			return "", fmt.Errorf("parse system prompt: %w", err)
		}
	}
	if data.Time == "" {
		data.Time = Now()
	}
	var b bytes.Buffer
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return b.String(), nil
}

// RenderAgent renders the system prompt for a background agent.
func RenderAgent(data AgentPromptData) (string, error) {
	if data.Time == "" {
		data.Time = Now()
	}
	var b bytes.Buffer
	if err := agentTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render agent prompt: %w", err)
	}
	return b.String(), nil
}

// Now formats the current time for prompts.
func Now() string {
	return time.Now().Format("Monday, 2 January 2006 15:04 MST")
}
