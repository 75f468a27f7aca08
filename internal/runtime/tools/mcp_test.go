package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestMCPToolName(t *testing.T) {
	tests := []struct{ server, tool, want string }{
		{"github", "create_issue", "github__create_issue"},
		{"my server", "do.thing", "my_server__do_thing"},
	}
	for _, tt := range tests {
		if got := MCPToolName(tt.server, tt.tool); got != tt.want {
			t.Errorf("MCPToolName(%q, %q) = %q, want %q", tt.server, tt.tool, got, tt.want)
		}
	}
	long := MCPToolName(strings.Repeat("s", 40), strings.Repeat("t", 40))
	if len(long) != 64 {
		t.Errorf("expected name capped at 64, got %d", len(long))
	}
}

func TestResultText(t *testing.T) {
	out, err := resultText(&mcp.CallToolResult{Content: []mcp.Content{
		&mcp.TextContent{Text: "hello "},
		&mcp.TextContent{Text: "world"},
	}})
	if err != nil || out != "hello world" {
		t.Errorf("got %q, %v", out, err)
	}

	_, err = resultText(&mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: "bad input"}}})
	if err == nil || !strings.Contains(err.Error(), "bad input") {
		t.Errorf("expected tool error, got %v", err)
	}
}

func TestConnectMCPFailsFast(t *testing.T) {
	start := time.Now()
	_, err := ConnectMCP(context.Background(), MCPServer{
		Name:             "missing",
		Command:          "/nonexistent/mcp-server",
		HandshakeTimeout: time.Second,
	})
	if err == nil {
		t.Fatal("expected error for a missing server binary")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("handshake timeout not enforced")
	}
}

func TestConnectAllSkipsFailures(t *testing.T) {
	sources := ConnectAll(context.Background(), []MCPServer{
		{Name: "a", Command: "/nonexistent/a", HandshakeTimeout: time.Second},
		{Name: "b", Command: "/nonexistent/b", HandshakeTimeout: time.Second},
	})
	if len(sources) != 0 {
		t.Errorf("expected no sources, got %d", len(sources))
	}
}
