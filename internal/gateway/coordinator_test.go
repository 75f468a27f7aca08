package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	ctxengine "github.com/user/burrow/internal/context"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/state"
	"github.com/user/burrow/pkg/llm/llmtest"
)

func newCoordinator(t *testing.T, budget int) (*Coordinator, *state.Transcript, *llmtest.Scripted) {
	t.Helper()
	tr := state.NewTranscript(t.TempDir())
	p := llmtest.New()
	c := New(tr, p, budget, events.New())
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.Stop()
	})
	return c, tr, p
}

// recordingProcessor appends the interaction and, after a pause, a reply.
func recordingProcessor(tr *state.Transcript, log *[]string, mu *sync.Mutex, pause time.Duration) Processor {
	return func(ctx context.Context, it *Interaction) error {
		mu.Lock()
		*log = append(*log, "start:"+it.Content)
		mu.Unlock()

		if _, err := tr.Append(ctx, ToMessage(it)); err != nil {
			return err
		}
		time.Sleep(pause)
		if _, err := tr.Append(ctx, state.Message{Role: state.RoleAssistant, Content: "re: " + it.Content}); err != nil {
			return err
		}

		mu.Lock()
		*log = append(*log, "end:"+it.Content)
		mu.Unlock()
		if it.OnComplete != nil {
			it.OnComplete("re: " + it.Content)
		}
		return nil
	}
}

func TestQueueSerialization(t *testing.T) {
	c, tr, _ := newCoordinator(t, 100000)
	var (
		mu  sync.Mutex
		log []string
	)
	c.SetProcessor(recordingProcessor(tr, &log, &mu, 50*time.Millisecond))

	if _, err := c.SubmitUser("first", "test", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SubmitUser("second", "test", nil); err != nil {
		t.Fatal(err)
	}
	if !c.WaitIdle(2 * time.Second) {
		t.Fatal("timeout waiting for idle")
	}

	mu.Lock()
	got := strings.Join(log, ",")
	mu.Unlock()
	if got != "start:first,end:first,start:second,end:second" {
		t.Errorf("interactions overlapped: %s", got)
	}

	msgs, _ := tr.Messages(context.Background())
	want := []string{"first", "re: first", "second", "re: second"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("message %d: got %q, want %q", i, m.Content, want[i])
		}
	}
}

func TestQueueLenAndPreview(t *testing.T) {
	c, tr, _ := newCoordinator(t, 100000)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	c.SetProcessor(func(ctx context.Context, it *Interaction) error {
		started <- struct{}{}
		<-release
		_, err := tr.Append(ctx, ToMessage(it))
		return err
	})

	var changes []events.Event
	var mu sync.Mutex
	unsubscribe := c.bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.QueueChanged {
			mu.Lock()
			changes = append(changes, ev)
			mu.Unlock()
		}
	})
	defer unsubscribe()

	c.SubmitUser("busy", "test", nil)
	<-started
	c.SubmitUser(strings.Repeat("a", 100), "test", nil)
	c.SubmitUser("short", "test", nil)

	if c.Len() != 2 {
		t.Errorf("expected 2 pending, got %d", c.Len())
	}
	preview := c.Preview(5)
	if len(preview) != 2 || len([]rune(preview[0])) != PreviewChars || preview[1] != "short" {
		t.Errorf("unexpected preview: %q", preview)
	}

	close(release)
	<-started
	<-started
	if !c.WaitIdle(2 * time.Second) {
		t.Fatal("timeout waiting for idle")
	}
	if c.Len() != 0 {
		t.Errorf("expected empty queue, got %d", c.Len())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 {
		t.Fatal("expected queue-changed events")
	}
	if last := changes[len(changes)-1]; last.QueueLength != 0 {
		t.Errorf("last queue-changed should report 0, got %d", last.QueueLength)
	}
}

func TestProcessorErrorKeepsQueueAlive(t *testing.T) {
	c, _, _ := newCoordinator(t, 100000)
	var calls int
	c.SetProcessor(func(ctx context.Context, it *Interaction) error {
		calls++
		if it.Content == "bad" {
			return errors.New("disk full")
		}
		return nil
	})

	var reply string
	c.SubmitUser("bad", "test", func(r string) { reply = r })
	c.SubmitUser("good", "test", nil)
	if !c.WaitIdle(2 * time.Second) {
		t.Fatal("timeout")
	}
	if calls != 2 {
		t.Errorf("expected both interactions processed, got %d", calls)
	}
	if !strings.Contains(reply, "something went wrong") {
		t.Errorf("expected apology reply, got %q", reply)
	}
}

func TestAgentReportRecordedWithIdentity(t *testing.T) {
	c, tr, _ := newCoordinator(t, 100000)
	var (
		mu  sync.Mutex
		log []string
	)
	c.SetProcessor(recordingProcessor(tr, &log, &mu, 0))

	if err := c.SubmitAgentReport(context.Background(), "agent-1234567890", "found 3 files"); err != nil {
		t.Fatal(err)
	}
	c.WaitIdle(2 * time.Second)

	msgs, _ := tr.Messages(context.Background())
	if len(msgs) == 0 || msgs[0].Role != state.RoleAgent || msgs[0].AgentID != "agent-1234567890" {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
	view := ToLLM(msgs)
	if view[0].Role != "user" || !strings.Contains(view[0].Content, "Relay this information") || !strings.Contains(view[0].Content, "agent-12") {
		t.Errorf("report not framed: %q", view[0].Content)
	}
}

func TestCompactionBeforeInteraction(t *testing.T) {
	c, tr, p := newCoordinator(t, 100)
	p.Summary = "- earlier we talked about files"
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		tr.Append(ctx, state.Message{Role: state.RoleUser, Content: strings.Repeat("x", 80)})
	}

	var seen int
	c.SetProcessor(func(ctx context.Context, it *Interaction) error {
		n, _ := tr.Len(ctx)
		seen = n
		return nil
	})
	c.SubmitUser("next", "test", nil)
	c.WaitIdle(2 * time.Second)

	if seen != 1 {
		t.Errorf("expected compaction to leave 1 message before processing, saw %d", seen)
	}
	msgs, _ := tr.Messages(ctx)
	if !strings.HasPrefix(msgs[0].Content, ctxengine.SummaryPrefix) {
		t.Errorf("expected summary, got %q", msgs[0].Content)
	}
}

func TestCompactionFallbackTruncates(t *testing.T) {
	c, tr, p := newCoordinator(t, 100)
	p.SummaryErr = errors.New("model down")
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		tr.Append(ctx, state.Message{Role: state.RoleUser, Content: strings.Repeat(string(rune('a'+i)), 80)})
	}

	c.Compact(ctx)

	msgs, _ := tr.Messages(ctx)
	if len(msgs) != ctxengine.KeepRecent+1 {
		t.Fatalf("expected %d messages, got %d", ctxengine.KeepRecent+1, len(msgs))
	}
	if msgs[0].Content[0] != 'a' || msgs[len(msgs)-1].Content[0] != 'j' {
		t.Errorf("expected first and most recent messages kept")
	}
}

func TestClearConversation(t *testing.T) {
	c, tr, _ := newCoordinator(t, 100000)
	ctx := context.Background()
	tr.Append(ctx, state.Message{Role: state.RoleUser, Content: "x"})
	if err := c.ClearConversation(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := tr.Len(ctx); n != 0 {
		t.Errorf("expected empty transcript, got %d", n)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	c := New(state.NewTranscript(t.TempDir()), llmtest.New(), 1000, nil)
	if err := c.Submit(NewUserInteraction("x", "test")); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped before Start, got %v", err)
	}
	c.Start(context.Background())
	c.Stop()
	if err := c.Submit(NewUserInteraction("x", "test")); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
}
