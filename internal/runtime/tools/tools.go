// Package tools holds the handlers exposed to the model: filesystem, command,
// web and memory tools plus tools discovered from MCP servers.
package tools

import (
	"context"
	"encoding/json"
	"unicode/utf8"
)

// Tool matches runtime.Tool; handlers here satisfy it without importing the
// registry.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// cut returns at most n bytes of s, shortened further so that no multi-byte
// character is split.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
