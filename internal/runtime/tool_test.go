package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type echoTool struct{}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echoes input" }
func (e *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (e *echoTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	return p.Text, nil
}

type funcTool struct {
	name string
	fn   func() (string, error)
}

func (f *funcTool) Name() string                { return f.name }
func (f *funcTool) Description() string         { return f.name }
func (f *funcTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (f *funcTool) Execute(context.Context, json.RawMessage) (string, error) {
	return f.fn()
}

func decodeFailure(t *testing.T, s string) string {
	t.Helper()
	var f struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(s), &f); err != nil || f.Success == nil || *f.Success {
		t.Fatalf("expected failure JSON, got %q", s)
	}
	return f.Error
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})

	tool, ok := r.Get("echo")
	if !ok || tool.Name() != "echo" {
		t.Fatal("expected to find echo tool")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected not to find missing tool")
	}
}

func TestRegistryAsLLMToolsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&funcTool{name: "zeta"}, &echoTool{}, &funcTool{name: "alpha"})
	llmTools := r.AsLLMTools()
	if len(llmTools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(llmTools))
	}
	if llmTools[0].Function.Name != "alpha" || llmTools[2].Function.Name != "zeta" {
		t.Errorf("expected sorted tools, got %v", r.Names())
	}
	if llmTools[1].Type != "function" {
		t.Errorf("expected type 'function', got %q", llmTools[1].Type)
	}
}

func TestRegistryWithDoesNotMutate(t *testing.T) {
	base := NewRegistry()
	base.Register(&echoTool{})
	derived := base.With(&funcTool{name: "report"})

	if _, ok := base.Get("report"); ok {
		t.Error("With must not modify the base registry")
	}
	if _, ok := derived.Get("echo"); !ok {
		t.Error("derived registry lost base tools")
	}
}

func TestInvokeSuccess(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})
	if got := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`)); got != "hi" {
		t.Errorf("got %q", got)
	}
}

func TestInvokeNeverFails(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{},
		&funcTool{name: "broken", fn: func() (string, error) { return "", errors.New("disk on fire") }},
		&funcTool{name: "panics", fn: func() (string, error) { panic("nil map") }},
	)
	ctx := context.Background()

	if msg := decodeFailure(t, r.Invoke(ctx, "broken", nil)); msg != "disk on fire" {
		t.Errorf("got %q", msg)
	}
	if msg := decodeFailure(t, r.Invoke(ctx, "panics", nil)); !strings.Contains(msg, "nil map") {
		t.Errorf("got %q", msg)
	}
	if msg := decodeFailure(t, r.Invoke(ctx, "echo", json.RawMessage(`{not json`))); !strings.Contains(msg, "not valid JSON") {
		t.Errorf("got %q", msg)
	}
	if msg := decodeFailure(t, r.Invoke(ctx, "echo", json.RawMessage(`{"text": 5}`))); msg == "" {
		t.Error("expected decode error message")
	}
}

func TestInvokeUnknownSuggests(t *testing.T) {
	r := NewRegistry()
	r.Register(&funcTool{name: "list_directory"}, &funcTool{name: "read_file"})
	msg := decodeFailure(t, r.Invoke(context.Background(), "list_dir", nil))
	if !strings.Contains(msg, `unknown tool "list_dir"`) || !strings.Contains(msg, `did you mean "list_directory"`) {
		t.Errorf("got %q", msg)
	}
}
