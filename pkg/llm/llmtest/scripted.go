// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/user/burrow/pkg/llm"
)

// Turn is one scripted model response.
type Turn struct {
	Text    string
	Calls   []llm.ToolCall
	Err     error // delivered as an EventError after Text
	OpenErr error // returned from Stream itself
}

// Scripted replays Turns in order. Once the script is exhausted every
// further stream answers with Final (or "done").
type Scripted struct {
	mu       sync.Mutex
	turns    []Turn
	requests []llm.Request

	Final      string
	Summary    string
	SummaryErr error

	// OnStream, if set, runs at the start of every Stream call.
	OnStream func(ctx context.Context, req *llm.Request)
}

func New(turns ...Turn) *Scripted {
	return &Scripted{turns: turns}
}

// Push appends turns to the script.
func (s *Scripted) Push(turns ...Turn) {
	s.mu.Lock()
	s.turns = append(s.turns, turns...)
	s.mu.Unlock()
}

func (s *Scripted) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	if s.OnStream != nil {
		s.OnStream(ctx, req)
	}
	s.mu.Lock()
	s.requests = append(s.requests, snapshot(req))
	turn := Turn{Text: s.Final}
	if turn.Text == "" {
		turn.Text = "done"
	}
	if len(s.turns) > 0 {
		turn = s.turns[0]
		s.turns = s.turns[1:]
	}
	s.mu.Unlock()

	if turn.OpenErr != nil {
		return nil, turn.OpenErr
	}
	ch := make(chan llm.StreamEvent, len(turn.Calls)+2)
	if turn.Text != "" {
		ch <- llm.StreamEvent{Kind: llm.EventText, Text: turn.Text}
	}
	if turn.Err != nil {
		ch <- llm.StreamEvent{Kind: llm.EventError, Err: turn.Err}
	} else {
		for i := range turn.Calls {
			call := turn.Calls[i]
			ch <- llm.StreamEvent{Kind: llm.EventToolCall, Call: &call}
		}
	}
	close(ch)
	return ch, nil
}

func (s *Scripted) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, snapshot(req))
	s.mu.Unlock()
	if s.SummaryErr != nil {
		return nil, s.SummaryErr
	}
	summary := s.Summary
	if summary == "" {
		summary = "summary"
	}
	return &llm.Response{Content: summary}, nil
}

// Requests returns copies of every request seen so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Call builds a tool call with JSON-encoded args.
func Call(id, name string, args any) llm.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return llm.NewToolCall(id, name, raw)
}

func snapshot(req *llm.Request) llm.Request {
	out := *req
	out.Messages = append([]llm.Message(nil), req.Messages...)
	return out
}
