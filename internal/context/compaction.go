package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/burrow/pkg/llm"
)

const (
	CharsPerToken = 4

	// ThresholdPercent of the budget must be exceeded before compaction.
	ThresholdPercent = 80

	// MinCompactMessages guards against compacting a tiny history into itself.
	MinCompactMessages = 4

	// KeepRecent is how many trailing messages Truncate keeps after the first.
	KeepRecent = 6

	summaryMaxTokens   = 2048
	summaryTemperature = 0.3

	// summarizer input is capped at this percent of the budget.
	summaryInputPercent = 75

	TruncationMarker = "[...truncated...]"
)

const summarizerSystem = `You are a conversation summarizer. Produce a faithful, compact summary of the conversation you are given so that work can continue from it without the original.`

const summarizerInstruction = `Summarize the conversation below. Preserve:
- the user's goals and any outstanding tasks
- decisions made and their reasons
- file paths, commands, identifiers and values that were discovered
- the current state of the work and what was about to happen next
- user preferences and constraints

Be concise. Use bullet points. Do not add commentary.

CONVERSATION:
`

// SummaryPrefix starts every compacted history.
const SummaryPrefix = "[Summary of the conversation so far]\n"

const continueInstruction = "\n\nContinue from here. The summary above replaces the earlier messages."

// ShouldCompact reports whether msgs exceeds ThresholdPercent of budget and
// has at least MinCompactMessages entries.
func ShouldCompact(msgs []llm.Message, budget int) bool {
	if len(msgs) < MinCompactMessages || budget <= 0 {
		return false
	}
	return EstimateMessages(msgs)*100 > budget*ThresholdPercent
}

// Compact summarizes msgs with one non-streaming call and returns a single
// user message holding the summary and a continue instruction.
func Compact(ctx context.Context, p llm.Provider, msgs []llm.Message, budget int) ([]llm.Message, error) {
	transcript := Serialize(msgs)
	maxChars := budget * summaryInputPercent / 100 * CharsPerToken
	transcript = TruncateMiddle(transcript, maxChars)

	summary, err := llm.Summarize(ctx, p, summarizerSystem, summarizerInstruction+transcript, summaryMaxTokens, summaryTemperature)
	if err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}
	return []llm.Message{{
		Role:    llm.RoleUser,
		Content: SummaryPrefix + strings.TrimSpace(summary) + continueInstruction,
	}}, nil
}

// Truncate is the fallback when Compact fails: the first message plus the
// last KeepRecent. Leading tool results in the tail are dropped so none is
// left without its call.
func Truncate(msgs []llm.Message) []llm.Message {
	if len(msgs) <= KeepRecent+1 {
		return msgs
	}
	tail := msgs[len(msgs)-KeepRecent:]
	for len(tail) > 1 && tail[0].Role == llm.RoleTool {
		tail = tail[1:]
	}
	out := make([]llm.Message, 0, len(tail)+1)
	out = append(out, msgs[0])
	return append(out, tail...)
}

// Serialize flattens msgs into a plain-text transcript.
func Serialize(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Content != "" {
			fmt.Fprintf(&b, "[%s]: %s\n\n", m.Role, m.Content)
		}
		for _, tc := range m.Tools {
			fmt.Fprintf(&b, "[%s called %s]: %s\n\n", m.Role, tc.Function.Name, tc.Function.Arguments)
		}
		for _, r := range m.Results {
			fmt.Fprintf(&b, "[result of %s]: %s\n\n", r.Name, r.Content)
		}
	}
	return b.String()
}

// TruncateMiddle keeps the head and tail of s within maxChars runes,
// replacing the middle with TruncationMarker.
func TruncateMiddle(s string, maxChars int) string {
	runes := []rune(s)
	if maxChars <= 0 || len(runes) <= maxChars {
		return s
	}
	marker := "\n\n" + TruncationMarker + "\n\n"
	keep := maxChars - len(marker)
	if keep < 2 {
		keep = 2
	}
	head := keep / 2
	tail := keep - head
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:])
}
