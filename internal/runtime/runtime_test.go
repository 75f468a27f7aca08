package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/gateway"
	"github.com/user/burrow/internal/state"
	"github.com/user/burrow/pkg/llm"
	"github.com/user/burrow/pkg/llm/llmtest"
)

func newRuntime(t *testing.T, p llm.Provider, opts Options) (*Runtime, *state.Transcript) {
	t.Helper()
	tr := state.NewTranscript(t.TempDir())
	opts.Transcript = tr
	opts.Provider = p
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
		opts.Registry.Register(&echoTool{})
	}
	return New(opts), tr
}

func TestProcessInteractionSimpleReply(t *testing.T) {
	p := llmtest.New(llmtest.Turn{Text: "hello there"})
	rt, tr := newRuntime(t, p, Options{})

	var reply string
	it := gateway.NewUserInteraction("hi", "test")
	it.OnComplete = func(s string) { reply = s }
	if err := rt.ProcessInteraction(context.Background(), it); err != nil {
		t.Fatal(err)
	}

	if reply != "hello there" {
		t.Errorf("reply = %q", reply)
	}
	msgs, _ := tr.Messages(context.Background())
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != state.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != state.RoleAssistant || msgs[1].Content != "hello there" {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestProcessInteractionToolLoop(t *testing.T) {
	p := llmtest.New(
		llmtest.Turn{Text: "Checking. ", Calls: []llm.ToolCall{llmtest.Call("c1", "echo", map[string]string{"text": "pong"})}},
		llmtest.Turn{Text: "Got pong."},
	)
	bus := events.New()
	var (
		mu   sync.Mutex
		seen []events.Type
	)
	bus.Subscribe(func(ev events.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})
	rt, tr := newRuntime(t, p, Options{Bus: bus})

	var reply string
	it := gateway.NewUserInteraction("ping", "test")
	it.OnComplete = func(s string) { reply = s }
	if err := rt.ProcessInteraction(context.Background(), it); err != nil {
		t.Fatal(err)
	}

	if reply != "Checking. Got pong." {
		t.Errorf("reply = %q", reply)
	}

	calls, _ := tr.ToolCalls(context.Background())
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call record, got %d", len(calls))
	}
	if calls[0].Tool != "echo" || calls[0].MessageIndex != 1 || calls[0].Offset != len("Checking. ") {
		t.Errorf("tool call record = %+v", calls[0])
	}

	reqs := p.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != llm.RoleTool || len(last.Results) != 1 || last.Results[0].Content != "pong" || last.Results[0].CallID != "c1" {
		t.Errorf("tool result not fed back: %+v", last)
	}
	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Function.Name != "echo" {
		t.Errorf("tools not offered: %+v", reqs[0].Tools)
	}

	mu.Lock()
	defer mu.Unlock()
	want := map[events.Type]bool{events.StreamStart: false, events.ToolCalled: false, events.StreamEnd: false}
	for _, typ := range seen {
		if _, ok := want[typ]; ok {
			want[typ] = true
		}
	}
	for typ, ok := range want {
		if !ok {
			t.Errorf("missing %s event", typ)
		}
	}
}

func TestProcessInteractionOpenErrorBecomesNote(t *testing.T) {
	p := llmtest.New(llmtest.Turn{OpenErr: errors.New("401 unauthorized")})
	rt, tr := newRuntime(t, p, Options{})

	if err := rt.ProcessInteraction(context.Background(), gateway.NewUserInteraction("hi", "test")); err != nil {
		t.Fatal(err)
	}
	msgs, _ := tr.Messages(context.Background())
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.HasPrefix(msgs[1].Content, "[Error:") || !strings.Contains(msgs[1].Content, "unauthorized") {
		t.Errorf("reply = %q", msgs[1].Content)
	}
}

func TestProcessInteractionMidStreamError(t *testing.T) {
	p := llmtest.New(llmtest.Turn{Text: "partial", Err: errors.New("connection reset")})
	rt, tr := newRuntime(t, p, Options{})

	if err := rt.ProcessInteraction(context.Background(), gateway.NewUserInteraction("hi", "test")); err != nil {
		t.Fatal(err)
	}
	msgs, _ := tr.Messages(context.Background())
	got := msgs[len(msgs)-1].Content
	if !strings.HasPrefix(got, "partial\n\n[Error:") {
		t.Errorf("reply = %q", got)
	}
}

func TestProcessInteractionStopsAfterMaxRounds(t *testing.T) {
	call := llmtest.Turn{Calls: []llm.ToolCall{llmtest.Call("c", "echo", map[string]string{"text": "again"})}}
	p := llmtest.New(call, call, call)
	rt, tr := newRuntime(t, p, Options{MaxRounds: 2})

	if err := rt.ProcessInteraction(context.Background(), gateway.NewUserInteraction("loop", "test")); err != nil {
		t.Fatal(err)
	}
	if n := len(p.Requests()); n != 2 {
		t.Errorf("expected 2 model calls, got %d", n)
	}
	msgs, _ := tr.Messages(context.Background())
	if !strings.Contains(msgs[len(msgs)-1].Content, "stopped after 2 tool rounds") {
		t.Errorf("reply = %q", msgs[len(msgs)-1].Content)
	}
}

func TestProcessInteractionFramesAgentReport(t *testing.T) {
	p := llmtest.New(llmtest.Turn{Text: "Your build finished."})
	rt, tr := newRuntime(t, p, Options{})

	report := gateway.NewAgentReport("0123456789abcdef", "build passed")
	if err := rt.ProcessInteraction(context.Background(), report); err != nil {
		t.Fatal(err)
	}

	msgs, _ := tr.Messages(context.Background())
	if msgs[0].Role != state.RoleAgent || msgs[0].AgentID != "0123456789abcdef" {
		t.Errorf("report entry = %+v", msgs[0])
	}
	req := p.Requests()[0]
	framed := req.Messages[len(req.Messages)-1]
	if framed.Role != llm.RoleUser || !strings.Contains(framed.Content, "[Report from background agent") {
		t.Errorf("report not framed: %+v", framed)
	}
}

func TestProcessInteractionUsesPromptFunc(t *testing.T) {
	p := llmtest.New()
	rt, _ := newRuntime(t, p, Options{Prompt: func(_ context.Context, r *Registry) string {
		return "custom prompt with " + strings.Join(r.Names(), ",")
	}})

	if err := rt.ProcessInteraction(context.Background(), gateway.NewUserInteraction("hi", "test")); err != nil {
		t.Fatal(err)
	}
	if got := p.Requests()[0].System; got != "custom prompt with echo" {
		t.Errorf("system = %q", got)
	}
}
