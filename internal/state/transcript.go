// internal/state/transcript.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/burrow/internal/types"
)

// Roles in the main conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleAgent     = "agent"
)

// Message is one entry of the main conversation.
type Message struct {
	ID      types.MessageID `json:"id"`
	Role    string          `json:"role"`
	Content string          `json:"content"`
	At      time.Time       `json:"at"`
	AgentID types.AgentID   `json:"agent_id,omitempty"`
	Source  types.Origin    `json:"source,omitempty"`
}

// ToolCallRecord is a tool invocation made by the main conversation, anchored
// at a character offset inside the assistant message it belongs to.
type ToolCallRecord struct {
	Tool         string          `json:"tool"`
	Input        json.RawMessage `json:"input"`
	At           time.Time       `json:"at"`
	MessageIndex int             `json:"message_index"`
	Offset       int             `json:"offset"`
}

// Transcript is an append-only JSONL store for the main conversation:
// messages.jsonl and toolcalls.jsonl under dir. Contents are cached in
// memory after the first read.
type Transcript struct {
	dir      string
	mu       sync.RWMutex
	loaded   bool
	messages []Message
	calls    []ToolCallRecord
}

// NewTranscript creates a transcript stored under dir.
func NewTranscript(dir string) *Transcript {
	return &Transcript{dir: dir}
}

func (t *Transcript) messagesPath() string { return filepath.Join(t.dir, "messages.jsonl") }
func (t *Transcript) callsPath() string    { return filepath.Join(t.dir, "toolcalls.jsonl") }

// load reads both files once. Caller must hold the write lock.
func (t *Transcript) load() error {
	if t.loaded {
		return nil
	}
	msgs, err := readJSONL[Message](t.messagesPath())
	if err != nil {
		return err
	}
	calls, err := readJSONL[ToolCallRecord](t.callsPath())
	if err != nil {
		return err
	}
	t.messages, t.calls, t.loaded = msgs, calls, true
	return nil
}

// Append adds a message and returns its index. ID and At are filled in when
// empty.
func (t *Transcript) Append(_ context.Context, m Message) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(); err != nil {
		return 0, err
	}
	if m.ID == "" {
		m.ID = types.NewMessageID()
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	if err := appendJSONL(t.messagesPath(), m); err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	t.messages = append(t.messages, m)
	return len(t.messages) - 1, nil
}

// AppendToolCall records a tool call.
func (t *Transcript) AppendToolCall(_ context.Context, rec ToolCallRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(); err != nil {
		return err
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	if err := appendJSONL(t.callsPath(), rec); err != nil {
		return fmt.Errorf("append tool call: %w", err)
	}
	t.calls = append(t.calls, rec)
	return nil
}

// Messages returns a copy of every message.
func (t *Transcript) Messages(_ context.Context) ([]Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(); err != nil {
		return nil, err
	}
	return append([]Message(nil), t.messages...), nil
}

// ToolCalls returns a copy of every tool-call record.
func (t *Transcript) ToolCalls(_ context.Context) ([]ToolCallRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.load(); err != nil {
		return nil, err
	}
	return append([]ToolCallRecord(nil), t.calls...), nil
}

// Len returns the number of messages.
func (t *Transcript) Len(ctx context.Context) (int, error) {
	msgs, err := t.Messages(ctx)
	return len(msgs), err
}

// Replace swaps the whole conversation for msgs, as compaction does. Tool-call
// records point into the old messages and are dropped.
func (t *Transcript) Replace(_ context.Context, msgs []Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = types.NewMessageID()
		}
		if msgs[i].At.IsZero() {
			msgs[i].At = time.Now()
		}
	}
	if err := writeJSONL(t.messagesPath(), msgs); err != nil {
		return fmt.Errorf("replace messages: %w", err)
	}
	if err := writeJSONL[ToolCallRecord](t.callsPath(), nil); err != nil {
		return fmt.Errorf("replace tool calls: %w", err)
	}
	t.messages = append([]Message(nil), msgs...)
	t.calls = nil
	t.loaded = true
	return nil
}

// Clear removes the whole conversation.
func (t *Transcript) Clear(ctx context.Context) error {
	return t.Replace(ctx, nil)
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func appendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// writeJSONL rewrites path atomically (temp file + rename).
func writeJSONL[T any](path string, items []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf []byte
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return err
		}
		buf = append(append(buf, data...), '\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
