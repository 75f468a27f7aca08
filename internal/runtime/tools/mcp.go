package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const defaultHandshakeTimeout = 15 * time.Second

// MCPServer describes one MCP server launched over stdio.
type MCPServer struct {
	Name             string
	Command          string
	Args             []string
	Env              map[string]string
	HandshakeTimeout time.Duration
}

// MCPSource is a connected MCP server and the tools it advertised.
type MCPSource struct {
	name    string
	session *mcp.ClientSession
	tools   []Tool
}

// ConnectMCP launches the server and lists its tools. Connecting,
// initializing and listing must finish within the handshake timeout.
func ConnectMCP(ctx context.Context, server MCPServer) (*MCPSource, error) {
	timeout := server.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	cmd := exec.Command(server.Command, server.Args...)
	cmd.Env = os.Environ()
	for k, v := range server.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "burrow", Version: "v1.0.0"}, nil)
	session, err := client.Connect(hctx, mcp.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, fmt.Errorf("connect MCP server %s: %w", server.Name, err)
	}

	src := &MCPSource{name: server.Name, session: session}
	params := &mcp.ListToolsParams{}
	for {
		list, err := session.ListTools(hctx, params)
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("list tools from MCP server %s: %w", server.Name, err)
		}
		for _, t := range list.Tools {
			schema, err := json.Marshal(t.InputSchema)
			if err != nil || t.InputSchema == nil {
				schema = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			src.tools = append(src.tools, &mcpTool{
				source:      src,
				name:        MCPToolName(server.Name, t.Name),
				remote:      t.Name,
				description: t.Description,
				schema:      schema,
			})
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}
	return src, nil
}

// ConnectAll connects to every server concurrently. Servers that fail are
// logged and left out.
func ConnectAll(ctx context.Context, servers []MCPServer) []*MCPSource {
	var (
		mu      sync.Mutex
		sources []*MCPSource
	)
	var g errgroup.Group
	for _, server := range servers {
		g.Go(func() error {
			src, err := ConnectMCP(ctx, server)
			if err != nil {
				slog.Warn("MCP server unavailable", "server", server.Name, "error", err)
				return nil
			}
			slog.Info("MCP server connected", "server", server.Name, "tools", len(src.tools))
			mu.Lock()
			sources = append(sources, src)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return sources
}

func (s *MCPSource) Name() string  { return s.name }
func (s *MCPSource) Tools() []Tool { return s.tools }

// Close ends the session, which also stops the server process.
func (s *MCPSource) Close() error {
	return s.session.Close()
}

// MCPToolName builds the model-facing name "<server>__<tool>", restricted to
// the characters every provider accepts.
func MCPToolName(server, tool string) string {
	name := sanitizeToolName(server) + "__" + sanitizeToolName(tool)
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

func sanitizeToolName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

type mcpTool struct {
	source      *MCPSource
	name        string
	remote      string
	description string
	schema      json.RawMessage
}

func (t *mcpTool) Name() string                { return t.name }
func (t *mcpTool) Description() string         { return t.description }
func (t *mcpTool) Parameters() json.RawMessage { return t.schema }

func (t *mcpTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("parse args: %w", err)
		}
	}
	res, err := t.source.session.CallTool(ctx, &mcp.CallToolParams{Name: t.remote, Arguments: params})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", t.name, err)
	}
	return resultText(res)
}

func resultText(res *mcp.CallToolResult) (string, error) {
	var sb strings.Builder
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("tool error: %s", sb.String())
	}
	return sb.String(), nil
}
