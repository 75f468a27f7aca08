package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestTranscriptAppendAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	tr := NewTranscript(dir)

	i, err := tr.Append(ctx, Message{Role: RoleUser, Content: "hi", Source: "http"})
	if err != nil {
		t.Fatal(err)
	}
	j, _ := tr.Append(ctx, Message{Role: RoleAgent, Content: "done", AgentID: "a1"})
	if i != 0 || j != 1 {
		t.Errorf("unexpected indexes %d, %d", i, j)
	}
	if err := tr.AppendToolCall(ctx, ToolCallRecord{Tool: "list_agents", Input: json.RawMessage(`{}`), MessageIndex: 2, Offset: 5}); err != nil {
		t.Fatal(err)
	}

	reloaded := NewTranscript(dir)
	msgs, err := reloaded.Messages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].AgentID != "a1" || msgs[0].ID == "" || msgs[0].At.IsZero() {
		t.Errorf("unexpected messages: %+v", msgs)
	}
	calls, _ := reloaded.ToolCalls(ctx)
	if len(calls) != 1 || calls[0].MessageIndex != 2 || calls[0].Offset != 5 {
		t.Errorf("unexpected tool calls: %+v", calls)
	}
}

func TestTranscriptMessagesIsCopy(t *testing.T) {
	tr := NewTranscript(t.TempDir())
	ctx := context.Background()
	tr.Append(ctx, Message{Role: RoleUser, Content: "original"})

	msgs, _ := tr.Messages(ctx)
	msgs[0].Content = "mutated"
	again, _ := tr.Messages(ctx)
	if again[0].Content != "original" {
		t.Error("Messages must return a copy")
	}
}

func TestTranscriptReplace(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	tr := NewTranscript(dir)
	for _, c := range []string{"a", "b", "c"} {
		tr.Append(ctx, Message{Role: RoleUser, Content: c})
	}
	tr.AppendToolCall(ctx, ToolCallRecord{Tool: "x"})

	if err := tr.Replace(ctx, []Message{{Role: RoleUser, Content: "summary"}}); err != nil {
		t.Fatal(err)
	}

	reloaded := NewTranscript(dir)
	msgs, _ := reloaded.Messages(ctx)
	if len(msgs) != 1 || msgs[0].Content != "summary" || msgs[0].ID == "" {
		t.Errorf("unexpected messages after replace: %+v", msgs)
	}
	calls, _ := reloaded.ToolCalls(ctx)
	if len(calls) != 0 {
		t.Errorf("expected tool calls to be dropped, got %d", len(calls))
	}
	if _, err := os.Stat(filepath.Join(dir, "messages.jsonl.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestTranscriptClear(t *testing.T) {
	ctx := context.Background()
	tr := NewTranscript(t.TempDir())
	tr.Append(ctx, Message{Role: RoleUser, Content: "x"})
	if err := tr.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := tr.Len(ctx); n != 0 {
		t.Errorf("expected empty transcript, got %d", n)
	}
}

func TestTranscriptCorruptLine(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "messages.jsonl"), []byte("{not json}\n"), 0o644)
	if _, err := NewTranscript(dir).Messages(context.Background()); err == nil {
		t.Fatal("expected error for corrupt transcript")
	}
}
