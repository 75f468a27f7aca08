package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/burrow/pkg/llm"
)

// Turn is what one streamed completion produced.
type Turn struct {
	Text  string
	Calls []llm.ToolCall

	// Err is a mid-stream failure after output had started. Text holds what
	// arrived before it and Calls is empty.
	Err error
}

// errBeforeOutput marks a stream that failed before producing anything, which
// is safe to retry.
type errBeforeOutput struct{ err error }

func (e errBeforeOutput) Error() string { return e.err.Error() }
func (e errBeforeOutput) Unwrap() error { return e.err }

// StreamTurn streams one completion, forwarding text fragments to onText.
// Failures to open the stream, or errors before the first fragment, are
// retried under policy; the returned error means no output was produced.
func StreamTurn(ctx context.Context, p llm.Provider, req *llm.Request, policy *RetryPolicy, onText func(string)) (*Turn, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	var turn *Turn
	err := policy.Execute(ctx, func() error {
		ch, err := p.Stream(ctx, req)
		if err != nil {
			return err
		}
		t, err := drain(ch, onText)
		if err != nil {
			return errBeforeOutput{err}
		}
		turn = t
		return nil
	})
	if err != nil {
		var e errBeforeOutput
		if errors.As(err, &e) {
			err = e.err
		}
		return nil, fmt.Errorf("stream completion: %w", err)
	}
	return turn, nil
}

// drain consumes ch. It returns an error only when the stream failed before
// any text or tool call arrived.
func drain(ch <-chan llm.StreamEvent, onText func(string)) (*Turn, error) {
	var (
		text  strings.Builder
		turn  = &Turn{}
		begun bool
	)
	for ev := range ch {
		switch ev.Kind {
		case llm.EventText:
			begun = true
			text.WriteString(ev.Text)
			if onText != nil && ev.Text != "" {
				onText(ev.Text)
			}
		case llm.EventToolCall:
			begun = true
			if ev.Call != nil {
				turn.Calls = append(turn.Calls, *ev.Call)
			}
		case llm.EventError:
			if !begun {
				// keep draining so the producer can exit
				for range ch {
				}
				return nil, ev.Err
			}
			turn.Err = ev.Err
			turn.Calls = nil
		}
	}
	turn.Text = text.String()
	return turn, nil
}

// ErrorNote renders an inline error fragment for a transcript.
func ErrorNote(err error) string {
	return fmt.Sprintf("[Error: %v]", err)
}
