package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	ctxengine "github.com/user/burrow/internal/context"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/gateway"
	"github.com/user/burrow/internal/runtime/tools"
	"github.com/user/burrow/internal/state"
	"github.com/user/burrow/pkg/llm"
)

// PromptFunc builds the main system prompt for one interaction.
type PromptFunc func(ctx context.Context, registry *Registry) string

// Options configures a Runtime.
type Options struct {
	Transcript  *state.Transcript
	Provider    llm.Provider
	Budget      int // context window in tokens
	MaxTokens   int // output tokens per call
	Temperature *float32
	Engine      *ctxengine.Engine
	Registry    *Registry
	Bus         *events.EventBus
	Retry       *RetryPolicy
	MaxRounds   int
	Prompt      PromptFunc
}

// Runtime runs the main conversation's tool-calling loop. It is the
// coordinator's processor, so calls never overlap.
type Runtime struct {
	opts    Options
	session *tools.Session
}

// New creates a Runtime.
func New(opts Options) *Runtime {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 10
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Prompt == nil {
		opts.Prompt = defaultPrompt
	}
	return &Runtime{
		opts:    opts,
		session: &tools.Session{Reads: tools.NewReadTracker()},
	}
}

func defaultPrompt(_ context.Context, registry *Registry) string {
	out, err := ctxengine.RenderMain("", ctxengine.MainPromptData{Tools: registry.Names()})
	if err != nil {
		slog.Error("render system prompt", "error", err)
	}
	return out
}

// ProcessInteraction records the interaction, streams the reply while
// executing any requested tools, and records the reply. Model failures are
// written into the reply as inline errors; only storage failures are
// returned.
func (rt *Runtime) ProcessInteraction(ctx context.Context, it *gateway.Interaction) error {
	o := rt.opts
	in := gateway.ToMessage(it)
	idx, err := o.Transcript.Append(ctx, in)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	events.Emit(o.Bus, events.Event{Type: events.MessageAppended, Scope: "main", Role: in.Role, Text: in.Content, AgentID: in.AgentID, MessageIndex: idx})

	history, err := o.Transcript.Messages(ctx)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	working := gateway.ToLLM(history)
	replyIndex := len(history)
	system := o.Prompt(ctx, o.Registry)
	schemas := o.Registry.AsLLMTools()
	ctx = tools.WithSession(ctx, rt.session)

	var reply strings.Builder
	note := func(err error) {
		text := ErrorNote(err)
		if reply.Len() > 0 {
			text = "\n\n" + text
		}
		reply.WriteString(text)
		events.Emit(o.Bus, events.Event{Type: events.StreamChunk, Scope: "main", Text: text})
	}

	events.Emit(o.Bus, events.Event{Type: events.StreamStart, Scope: "main", MessageIndex: replyIndex})
	for round := 0; ; round++ {
		if round == o.MaxRounds {
			note(fmt.Errorf("stopped after %d tool rounds", o.MaxRounds))
			break
		}
		req := &llm.Request{
			System:      system,
			Messages:    rt.fit(system, working),
			Tools:       schemas,
			MaxTokens:   o.MaxTokens,
			Temperature: o.Temperature,
		}
		turn, err := StreamTurn(ctx, o.Provider, req, o.Retry, func(s string) {
			reply.WriteString(s)
			events.Emit(o.Bus, events.Event{Type: events.StreamChunk, Scope: "main", Text: s})
		})
		if err != nil {
			slog.Warn("main completion failed", "error", err)
			note(err)
			break
		}
		if turn.Err != nil {
			slog.Warn("main completion interrupted", "error", turn.Err)
			note(turn.Err)
			break
		}
		if len(turn.Calls) == 0 {
			break
		}

		working = append(working, llm.Message{Role: llm.RoleAssistant, Content: turn.Text, Tools: turn.Calls})
		results := make([]llm.ToolResult, 0, len(turn.Calls))
		for _, call := range turn.Calls {
			rec := state.ToolCallRecord{
				Tool:         call.Function.Name,
				Input:        call.Function.Arguments,
				MessageIndex: replyIndex,
				Offset:       utf8.RuneCountInString(reply.String()),
			}
			if err := o.Transcript.AppendToolCall(ctx, rec); err != nil {
				slog.Error("record tool call", "tool", rec.Tool, "error", err)
			}
			events.Emit(o.Bus, events.Event{Type: events.ToolCalled, Scope: "main", Tool: rec.Tool, Input: rec.Input, MessageIndex: rec.MessageIndex, Offset: rec.Offset})

			out := o.Registry.Invoke(ctx, call.Function.Name, call.Function.Arguments)
			results = append(results, llm.ToolResult{CallID: call.ID, Name: call.Function.Name, Content: out})
		}
		working = append(working, llm.Message{Role: llm.RoleTool, Results: results})
	}
	events.Emit(o.Bus, events.Event{Type: events.StreamEnd, Scope: "main", MessageIndex: replyIndex})

	text := reply.String()
	out := state.Message{Role: state.RoleAssistant, Content: text, Source: it.Source}
	idx, err = o.Transcript.Append(ctx, out)
	if err != nil {
		return fmt.Errorf("record reply: %w", err)
	}
	events.Emit(o.Bus, events.Event{Type: events.MessageAppended, Scope: "main", Role: out.Role, Text: text, MessageIndex: idx})

	if it.OnComplete != nil {
		it.OnComplete(text)
	}
	return nil
}

func (rt *Runtime) fit(system string, msgs []llm.Message) []llm.Message {
	if rt.opts.Engine == nil || rt.opts.Budget <= 0 {
		return msgs
	}
	return rt.opts.Engine.Fit(system, msgs, rt.opts.Budget, rt.opts.MaxTokens)
}
