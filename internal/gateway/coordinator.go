package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ctxengine "github.com/user/burrow/internal/context"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/state"
	"github.com/user/burrow/internal/types"
	"github.com/user/burrow/pkg/llm"
)

// PreviewChars is how much of each pending item Preview shows.
const PreviewChars = 80

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("coordinator stopped")

// Processor handles one interaction against the main conversation.
type Processor func(ctx context.Context, it *Interaction) error

// Coordinator serializes every input to the main conversation through one
// FIFO queue. At most one interaction is processed at a time, and the
// conversation is checked for compaction before and after each one.
type Coordinator struct {
	transcript *state.Transcript
	provider   llm.Provider
	budget     int
	bus        *events.EventBus
	processor  Processor

	mu         sync.Mutex
	pending    []*Interaction
	processing bool

	// conv is held while anything mutates the transcript.
	conv sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator. provider and budget drive compaction of the
// main conversation.
func New(transcript *state.Transcript, provider llm.Provider, budget int, bus *events.EventBus) *Coordinator {
	return &Coordinator{
		transcript: transcript,
		provider:   provider,
		budget:     budget,
		bus:        bus,
	}
}

// SetProcessor sets the function invoked for each dequeued interaction.
func (c *Coordinator) SetProcessor(fn Processor) {
	c.processor = fn
}

// Start initialises the coordinator's context. Must be called before Submit.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
}

// Stop cancels processing and waits for the drain loop to exit. Pending
// interactions are dropped.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Submit queues an interaction and starts draining if idle.
func (c *Coordinator) Submit(it *Interaction) error {
	if c.ctx == nil || c.ctx.Err() != nil {
		return ErrStopped
	}
	c.mu.Lock()
	c.pending = append(c.pending, it)
	start := !c.processing
	if start {
		c.processing = true
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.emitQueue()
	if start {
		go c.drain()
	}
	return nil
}

// SubmitUser queues text typed by the user.
func (c *Coordinator) SubmitUser(content string, source types.Origin, onComplete func(string)) (*Interaction, error) {
	it := NewUserInteraction(content, source)
	it.OnComplete = onComplete
	return it, c.Submit(it)
}

// SubmitAgentReport queues a report from a background agent.
func (c *Coordinator) SubmitAgentReport(_ context.Context, agentID types.AgentID, content string) error {
	return c.Submit(NewAgentReport(agentID, content))
}

func (c *Coordinator) next() *Interaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 || c.ctx.Err() != nil {
		c.processing = false
		return nil
	}
	it := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return it
}

func (c *Coordinator) drain() {
	defer c.wg.Done()
	for {
		it := c.next()
		if it == nil {
			return
		}
		c.emitQueue()
		c.process(it)
	}
}

func (c *Coordinator) process(it *Interaction) {
	c.conv.Lock()
	defer c.conv.Unlock()

	c.compactIfNeeded(c.ctx)
	if c.processor != nil {
		if err := c.processor(c.ctx, it); err != nil {
			slog.Error("interaction failed", "interaction", string(it.ID), "source", string(it.Source), "error", err)
			if it.OnComplete != nil {
				it.OnComplete("Sorry, something went wrong processing your message.")
			}
		}
	}
	c.compactIfNeeded(c.ctx)
}

// Len returns the number of interactions waiting (not counting the one in
// progress).
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Preview returns the first PreviewChars characters of up to n pending items.
func (c *Coordinator) Preview(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.pending) || n < 0 {
		n = len(c.pending)
	}
	out := make([]string, n)
	for i := range out {
		r := []rune(c.pending[i].Content)
		if len(r) > PreviewChars {
			r = r[:PreviewChars]
		}
		out[i] = string(r)
	}
	return out
}

// Busy reports whether an interaction is being processed or waiting.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// WaitIdle blocks until the queue is empty and nothing is processing, or the
// timeout expires. Returns true if idle, false if timed out.
func (c *Coordinator) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if !c.Busy() {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// ClearConversation empties the transcript once the current interaction, if
// any, has finished.
func (c *Coordinator) ClearConversation(ctx context.Context) error {
	c.conv.Lock()
	defer c.conv.Unlock()
	if err := c.transcript.Clear(ctx); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	events.Emit(c.bus, events.Event{Type: events.ConversationClear, Scope: "main"})
	return nil
}

// Compact checks the main conversation and compacts it if needed.
func (c *Coordinator) Compact(ctx context.Context) {
	c.conv.Lock()
	defer c.conv.Unlock()
	c.compactIfNeeded(ctx)
}

// compactIfNeeded must be called with conv held. Failures fall back to
// keeping the first message plus the most recent ones.
func (c *Coordinator) compactIfNeeded(ctx context.Context) {
	msgs, err := c.transcript.Messages(ctx)
	if err != nil {
		slog.Error("load transcript for compaction", "error", err)
		return
	}
	view := ToLLM(msgs)
	if !ctxengine.ShouldCompact(view, c.budget) {
		return
	}

	events.Emit(c.bus, events.Event{Type: events.CompactionStart, Scope: "main"})
	var replacement []state.Message
	out, err := ctxengine.Compact(ctx, c.provider, view, c.budget)
	if err != nil {
		slog.Warn("main conversation compaction failed, truncating", "error", err)
		replacement = truncate(msgs)
	} else {
		replacement = []state.Message{{Role: state.RoleUser, Content: out[0].Content, Source: "compaction"}}
	}
	if err := c.transcript.Replace(ctx, replacement); err != nil {
		slog.Error("replace transcript after compaction", "error", err)
		return
	}
	slog.Info("compacted main conversation", "before", len(msgs), "after", len(replacement))
	events.Emit(c.bus, events.Event{Type: events.CompactionComplete, Scope: "main", Text: replacement[0].Content})
}

func truncate(msgs []state.Message) []state.Message {
	if len(msgs) <= ctxengine.KeepRecent+1 {
		return msgs
	}
	out := make([]state.Message, 0, ctxengine.KeepRecent+1)
	out = append(out, msgs[0])
	return append(out, msgs[len(msgs)-ctxengine.KeepRecent:]...)
}

func (c *Coordinator) emitQueue() {
	events.Emit(c.bus, events.Event{
		Type:         events.QueueChanged,
		Scope:        "main",
		QueueLength:  c.Len(),
		QueuePreview: c.Preview(3),
	})
}
