// internal/context/engine.go
package context

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/burrow/pkg/llm"
)

// Engine counts tokens precisely (tiktoken) for prompt fitting. Compaction
// decisions never use it; they use the EstimateTokens heuristic.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
}

// New selects a tokenizer for model, falling back to cl100k_base and then,
// if no encoding can be loaded, to the character heuristic.
func New(model string) *Engine {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tokenizer unavailable, using character estimate", "model", model, "error", err)
			return &Engine{}
		}
	}
	return &Engine{tokenizer: enc}
}

// Count returns the token count for a string.
func (e *Engine) Count(text string) int {
	if e == nil || e.tokenizer == nil {
		return EstimateTokens(text)
	}
	return len(e.tokenizer.Encode(text, nil, nil))
}

func (e *Engine) countMessage(m llm.Message) int {
	n := e.Count(m.Content)
	for _, tc := range m.Tools {
		n += e.Count(tc.Function.Name) + e.Count(string(tc.Function.Arguments))
	}
	for _, r := range m.Results {
		n += e.Count(r.Content)
	}
	return n
}

// Fit keeps the newest messages whose combined size, plus the system prompt,
// fits in budget-reserve tokens. The last message is always kept and the
// result never begins with a tool result.
func (e *Engine) Fit(system string, msgs []llm.Message, budget, reserve int) []llm.Message {
	if len(msgs) == 0 {
		return msgs
	}
	remaining := budget - reserve - e.Count(system)

	start := len(msgs) - 1
	remaining -= e.countMessage(msgs[start])
	for start > 0 {
		cost := e.countMessage(msgs[start-1])
		if cost > remaining {
			break
		}
		remaining -= cost
		start--
	}
	for start < len(msgs)-1 && msgs[start].Role == llm.RoleTool {
		start++
	}
	if start > 0 {
		slog.Debug("trimmed prompt to budget", "dropped", start, "kept", len(msgs)-start)
	}
	return msgs[start:]
}

// EstimateTokens approximates token count as characters / CharsPerToken.
// It is monotonic in text length and cheap.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}

// EstimateMessages sums EstimateTokens over every text-bearing field.
func EstimateMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
		for _, tc := range m.Tools {
			total += EstimateTokens(tc.Function.Name) + EstimateTokens(string(tc.Function.Arguments))
		}
		for _, r := range m.Results {
			total += EstimateTokens(r.Content)
		}
	}
	return total
}
