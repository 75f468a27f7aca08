package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sahilm/fuzzy"

	"github.com/user/burrow/pkg/llm"
)

// Tool defines the interface for an executable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds registered tools and provides lookup. It is built once at
// startup; per-agent registries are derived with With.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(tools ...Tool) {
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
}

// With returns a copy of r with extra tools added.
func (r *Registry) With(extra ...Tool) *Registry {
	out := &Registry{tools: make(map[string]Tool, len(r.tools)+len(extra))}
	for name, t := range r.tools {
		out.tools[name] = t
	}
	out.Register(extra...)
	return out
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []Tool {
	names := r.Names()
	out := make([]Tool, len(names))
	for i, name := range names {
		out[i] = r.tools[name]
	}
	return out
}

// AsLLMTools converts registered tools to the LLM provider format.
func (r *Registry) AsLLMTools() []llm.Tool {
	all := r.All()
	out := make([]llm.Tool, 0, len(all))
	for _, t := range all {
		out = append(out, llm.NewTool(t.Name(), t.Description(), t.Parameters()))
	}
	return out
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Failure renders the structured failure result fed back to the model.
func Failure(msg string) string {
	out, _ := json.Marshal(failure{Error: msg})
	return string(out)
}

// Invoke runs a tool and always returns a result string. Unknown tools,
// malformed arguments, handler errors and panics all become a Failure.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (result string) {
	t, ok := r.tools[name]
	if !ok {
		msg := fmt.Sprintf("unknown tool %q", name)
		if s := r.suggest(name); s != "" {
			msg += fmt.Sprintf("; did you mean %q?", s)
		}
		return Failure(msg)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return Failure("arguments are not valid JSON")
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool panicked", "tool", name, "panic", p)
			result = Failure(fmt.Sprintf("tool %s crashed: %v", name, p))
		}
	}()

	out, err := t.Execute(ctx, args)
	if err != nil {
		return Failure(err.Error())
	}
	return out
}

func (r *Registry) suggest(name string) string {
	matches := fuzzy.Find(name, r.Names())
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}
