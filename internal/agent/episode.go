package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ctxengine "github.com/user/burrow/internal/context"
	"github.com/user/burrow/internal/directory"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/runtime"
	"github.com/user/burrow/internal/runtime/tools"
	"github.com/user/burrow/pkg/llm"
)

const lastOutputChars = 1000

// run drives one episode from running to completed. If ctx is cancelled the
// agent is left running so the next process start recovers it.
//
// The closing notice goes out while the agent is still running, so a message
// that arrives meanwhile is picked up here instead of starting a second
// episode.
func (r *Runtime) run(ctx context.Context, a *directory.Agent) error {
	a.BeginEpisode()
	var err error
	for {
		err = r.episode(ctx, a)
		if ctx.Err() != nil {
			_ = r.opts.Directory.Checkpoint(context.WithoutCancel(ctx), a)
			slog.Info("agent suspended", "agent", a.ID())
			return nil
		}
		if err != nil {
			a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayError, Text: runtime.ErrorNote(err)})
		}
		if err == nil && !a.Stopping() && a.Pending() {
			continue
		}
		if !a.Reported() {
			r.notify(ctx, a, err, a.Stopping())
		}
		if a.Finish(r.opts.Now(), err != nil) {
			r.complete(ctx, a)
			return err
		}
		a.BeginEpisode()
	}
}

// episode drains incoming messages and runs tool cycles until none are left.
func (r *Runtime) episode(ctx context.Context, a *directory.Agent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent panicked: %v", p)
		}
	}()
	entry, err := r.opts.Providers.Resolve(a.Provider())
	if err != nil {
		return err
	}
	ctx = tools.WithSession(ctx, r.session(a.ID()))
	for {
		if a.Stopping() {
			return nil
		}
		r.deliver(a)
		if err := r.cycle(ctx, a, entry); err != nil {
			return err
		}
		if !a.Pending() || a.Stopping() {
			return nil
		}
	}
}

// deliver moves one queued message from the main conversation into history.
func (r *Runtime) deliver(a *directory.Agent) bool {
	msg, ok := a.Dequeue()
	if !ok {
		return false
	}
	a.Append(r.opts.Now(), llm.Message{Role: llm.RoleUser, Content: directory.FromMainPrefix + msg})
	a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayFromMain, Text: msg})
	events.Emit(r.opts.Bus, events.Event{Type: events.AgentUpdated, AgentID: a.ID(), Scope: "agent", Role: llm.RoleUser, Text: msg})
	return true
}

// cycle runs the bounded tool-calling loop. Model failures end it with an
// inline error in the history; only cancellation is returned.
func (r *Runtime) cycle(ctx context.Context, a *directory.Agent, entry llm.Entry) error {
	schemas := r.tools.AsLLMTools()
	for i := 0; i < r.opts.MaxIterations; i++ {
		if a.Stopping() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		req := &llm.Request{
			System:      a.SystemPrompt(),
			Messages:    a.History(),
			Tools:       schemas,
			MaxTokens:   entry.MaxTokens,
			Temperature: entry.Temperature,
		}
		turn, err := runtime.StreamTurn(ctx, entry.Provider, req, r.opts.Retry, func(s string) {
			events.Emit(r.opts.Bus, events.Event{Type: events.AgentUpdated, AgentID: a.ID(), Scope: "agent", Text: s})
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.fail(ctx, a, "", err)
			return nil
		}
		if turn.Text != "" {
			a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayThinking, Text: turn.Text})
		}
		if turn.Err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.fail(ctx, a, turn.Text, turn.Err)
			return nil
		}
		if len(turn.Calls) == 0 {
			if turn.Text != "" {
				a.Append(r.opts.Now(), llm.Message{Role: llm.RoleAssistant, Content: turn.Text})
			}
			_ = r.opts.Directory.Checkpoint(ctx, a)
			return nil
		}

		a.Append(r.opts.Now(), llm.Message{Role: llm.RoleAssistant, Content: turn.Text, Tools: turn.Calls})
		results := make([]llm.ToolResult, 0, len(turn.Calls))
		for _, call := range turn.Calls {
			name := call.Function.Name
			slot := -1
			if name != directory.ReportTool {
				slot = a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayToolCall, Tool: name, Input: call.Function.Arguments})
			}
			events.Emit(r.opts.Bus, events.Event{Type: events.ToolCalled, AgentID: a.ID(), Scope: "agent", Tool: name, Input: call.Function.Arguments})

			out := r.tools.Invoke(ctx, name, call.Function.Arguments)
			a.SetDisplayOutput(slot, out)
			results = append(results, llm.ToolResult{CallID: call.ID, Name: name, Content: out})
		}
		a.Append(r.opts.Now(), llm.Message{Role: llm.RoleTool, Results: results})
		_ = r.opts.Directory.Checkpoint(ctx, a)

		r.compactIfNeeded(ctx, a, entry)
		r.deliver(a)
	}

	note := fmt.Sprintf("[Stopped after %d iterations]", r.opts.MaxIterations)
	a.Append(r.opts.Now(), llm.Message{Role: llm.RoleAssistant, Content: note})
	a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayNotice, Text: note})
	_ = r.opts.Directory.Checkpoint(ctx, a)
	slog.Warn("agent hit iteration limit", "agent", a.ID(), "limit", r.opts.MaxIterations)
	return nil
}

// fail records a model failure as the agent's final assistant turn.
func (r *Runtime) fail(ctx context.Context, a *directory.Agent, partial string, err error) {
	slog.Warn("agent completion failed", "agent", a.ID(), "error", err)
	note := runtime.ErrorNote(err)
	text := note
	if partial != "" {
		text = partial + "\n\n" + note
	}
	a.Append(r.opts.Now(), llm.Message{Role: llm.RoleAssistant, Content: text})
	a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayError, Text: note})
	_ = r.opts.Directory.Checkpoint(ctx, a)
}

// compactIfNeeded replaces the history with a summary once it passes the
// threshold, or with its head and tail when summarizing fails.
func (r *Runtime) compactIfNeeded(ctx context.Context, a *directory.Agent, entry llm.Entry) {
	history := a.History()
	if !ctxengine.ShouldCompact(history, entry.Budget) {
		return
	}
	events.Emit(r.opts.Bus, events.Event{Type: events.CompactionStart, AgentID: a.ID(), Scope: "agent"})
	compacted, err := ctxengine.Compact(ctx, entry.Provider, history, entry.Budget)
	if err != nil {
		slog.Warn("agent compaction failed, truncating", "agent", a.ID(), "error", err)
		compacted = ctxengine.Truncate(history)
	}
	a.ReplaceHistory(r.opts.Now(), compacted)
	_ = r.opts.Directory.Checkpoint(ctx, a)
	slog.Info("agent compacted", "agent", a.ID(), "before", len(history), "after", len(compacted))
	events.Emit(r.opts.Bus, events.Event{Type: events.CompactionComplete, AgentID: a.ID(), Scope: "agent"})
}

// notify reports on the agent's behalf when the episode sent nothing itself.
func (r *Runtime) notify(ctx context.Context, a *directory.Agent, episodeErr error, stopped bool) {
	notice := autoNotice(a, episodeErr, stopped)
	a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayToMain, Text: notice})
	if err := r.opts.Reporter.SubmitAgentReport(ctx, a.ID(), notice); err != nil {
		slog.Warn("deliver agent notice", "agent", a.ID(), "error", err)
		return
	}
	a.Report(r.opts.Now(), notice)
}

// complete runs once the agent is marked completed.
func (r *Runtime) complete(ctx context.Context, a *directory.Agent) {
	_ = r.opts.Directory.Checkpoint(ctx, a)
	slog.Info("agent completed", "agent", a.ID())
	events.Emit(r.opts.Bus, events.Event{Type: events.AgentCompleted, AgentID: a.ID()})
}

func autoNotice(a *directory.Agent, episodeErr error, stopped bool) string {
	var b strings.Builder
	switch {
	case stopped:
		b.WriteString("Agent was stopped before sending a report.")
	case episodeErr != nil:
		fmt.Fprintf(&b, "Agent failed without sending a report: %v", episodeErr)
	default:
		b.WriteString("Agent finished but sent no report.")
	}
	if last := lastAssistantText(a.History()); last != "" {
		b.WriteString("\n\nLast output:\n")
		b.WriteString(clip(last, lastOutputChars))
	}
	return b.String()
}

func lastAssistantText(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleAssistant && history[i].Content != "" {
			return history[i].Content
		}
	}
	return ""
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
