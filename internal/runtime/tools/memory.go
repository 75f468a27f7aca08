package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Memory is a markdown bullet list of facts that survives restarts and is
// rendered into the main system prompt.
type Memory struct {
	mu   sync.Mutex
	path string
}

func NewMemory(path string) *Memory {
	return &Memory{path: path}
}

func (m *Memory) load() ([]string, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	var facts []string
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "- "))
		if l != "" {
			facts = append(facts, l)
		}
	}
	return facts, nil
}

func (m *Memory) store(facts []string) error {
	var sb strings.Builder
	for _, f := range facts {
		sb.WriteString("- " + f + "\n")
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// Facts returns every stored fact in insertion order.
func (m *Memory) Facts() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// Add stores fact unless an identical one exists; it reports whether it was added.
func (m *Memory) Add(fact string) (bool, error) {
	fact = strings.TrimSpace(fact)
	m.mu.Lock()
	defer m.mu.Unlock()
	facts, err := m.load()
	if err != nil {
		return false, err
	}
	for _, f := range facts {
		if f == fact {
			return false, nil
		}
	}
	return true, m.store(append(facts, fact))
}

// Remove deletes fact; it reports whether it was present.
func (m *Memory) Remove(fact string) (bool, error) {
	fact = strings.TrimSpace(fact)
	m.mu.Lock()
	defer m.mu.Unlock()
	facts, err := m.load()
	if err != nil {
		return false, err
	}
	kept := facts[:0]
	found := false
	for _, f := range facts {
		if f == fact {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return false, nil
	}
	return true, m.store(kept)
}

// Render formats the facts for a system prompt; empty when there are none.
func (m *Memory) Render() string {
	facts, err := m.Facts()
	if err != nil || len(facts) == 0 {
		return ""
	}
	return "- " + strings.Join(facts, "\n- ")
}

// Tools returns memory_save, memory_delete and memory_list bound to m.
func (m *Memory) Tools() []Tool {
	return []Tool{&MemorySave{m}, &MemoryDelete{m}, &MemoryList{m}}
}

var contentParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"content": {"type": "string", "description": "The fact or preference, exactly as stored"}
	},
	"required": ["content"]
}`)

func parseContent(args json.RawMessage) (string, error) {
	var params struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if strings.TrimSpace(params.Content) == "" {
		return "", fmt.Errorf("content is required")
	}
	return params.Content, nil
}

// MemorySave appends a fact.
type MemorySave struct{ mem *Memory }

func (t *MemorySave) Name() string                { return "memory_save" }
func (t *MemorySave) Description() string         { return "Save a fact or preference to persistent memory" }
func (t *MemorySave) Parameters() json.RawMessage { return contentParams }

func (t *MemorySave) Execute(_ context.Context, args json.RawMessage) (string, error) {
	content, err := parseContent(args)
	if err != nil {
		return "", err
	}
	added, err := t.mem.Add(content)
	if err != nil {
		return "", err
	}
	if !added {
		return "Memory already exists: " + content, nil
	}
	return "Saved: " + content, nil
}

// MemoryDelete removes a fact.
type MemoryDelete struct{ mem *Memory }

func (t *MemoryDelete) Name() string                { return "memory_delete" }
func (t *MemoryDelete) Description() string         { return "Delete a fact or preference from persistent memory" }
func (t *MemoryDelete) Parameters() json.RawMessage { return contentParams }

func (t *MemoryDelete) Execute(_ context.Context, args json.RawMessage) (string, error) {
	content, err := parseContent(args)
	if err != nil {
		return "", err
	}
	found, err := t.mem.Remove(content)
	if err != nil {
		return "", err
	}
	if !found {
		return "Memory not found: " + content, nil
	}
	return "Deleted: " + content, nil
}

// MemoryList shows every fact.
type MemoryList struct{ mem *Memory }

func (t *MemoryList) Name() string        { return "memory_list" }
func (t *MemoryList) Description() string { return "List all facts and preferences in persistent memory" }
func (t *MemoryList) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *MemoryList) Execute(_ context.Context, _ json.RawMessage) (string, error) {
	facts, err := t.mem.Facts()
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return "No memories stored yet.", nil
	}
	return "- " + strings.Join(facts, "\n- "), nil
}
