// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewAgentID(t *testing.T) {
	id := NewAgentID()
	if id == "" {
		t.Error("expected non-empty AgentID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if NewAgentID() == id {
		t.Error("expected unique IDs")
	}
}

func TestOriginFormat(t *testing.T) {
	origin := NewOrigin("telegram", "123")
	expected := Origin("telegram:123")
	if origin != expected {
		t.Errorf("expected %s, got %s", expected, origin)
	}
}

func TestAgentIDShort(t *testing.T) {
	tests := []struct {
		id   AgentID
		want string
	}{
		{"0123456789abcdef", "01234567"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := tt.id.Short(); got != tt.want {
			t.Errorf("Short(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
