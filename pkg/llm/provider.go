package llm

import (
	"context"
	"fmt"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing. They never retry; callers do.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a chat completion request and returns a channel of events.
	// An error is returned only if the request could not be started; failures
	// after that arrive as an EventError followed by channel close.
	Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Region      string
	MaxTokens   int
	Temperature float32
}

// Summarize issues one non-streaming completion with a single user message.
func Summarize(ctx context.Context, p Provider, system, text string, maxTokens int, temperature float32) (string, error) {
	resp, err := p.Complete(ctx, &Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: text}},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if resp.Content == "" {
		return "", fmt.Errorf("summarize: empty response")
	}
	return resp.Content, nil
}

// Replay turns a complete response into a closed stream: one text event
// followed by one event per tool call.
func Replay(resp *Response) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(resp.ToolCalls)+1)
	if resp.Content != "" {
		ch <- StreamEvent{Kind: EventText, Text: resp.Content}
	}
	for i := range resp.ToolCalls {
		call := resp.ToolCalls[i]
		ch <- StreamEvent{Kind: EventToolCall, Call: &call}
	}
	close(ch)
	return ch
}

// Collect drains a stream into a Response. The first error event is returned
// alongside whatever was received before it.
func Collect(ch <-chan StreamEvent) (*Response, error) {
	resp := &Response{}
	var firstErr error
	for ev := range ch {
		switch ev.Kind {
		case EventText:
			resp.Content += ev.Text
		case EventToolCall:
			if ev.Call != nil {
				resp.ToolCalls = append(resp.ToolCalls, *ev.Call)
			}
		case EventError:
			if firstErr == nil {
				firstErr = ev.Err
			}
		}
	}
	return resp, firstErr
}

// Send delivers ev unless ctx is done. It reports whether the event was sent.
func Send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
