package events

import (
	"sync"
	"testing"
)

func TestBusOrderAndUnsubscribe(t *testing.T) {
	b := NewBus[int]()
	var got []string

	unsubA := b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })

	b.Publish(1)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected subscription order [a b], got %v", got)
	}

	unsubA()
	unsubA()
	got = nil
	b.Publish(2)
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("expected only b after unsubscribe, got %v", got)
	}
	if b.Count() != 1 {
		t.Errorf("expected 1 subscriber, got %d", b.Count())
	}
}

func TestBusIndependentSubscribers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"transport", "test"} {
		name := name
		b.Subscribe(func(ev Event) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		})
	}

	Emit(b, Event{Type: QueueChanged, QueueLength: 1})
	Emit(b, Event{Type: QueueChanged})
	if counts["transport"] != 2 || counts["test"] != 2 {
		t.Errorf("expected both subscribers to see 2 events, got %v", counts)
	}
}

func TestEmitStampsTime(t *testing.T) {
	b := New()
	var got Event
	b.Subscribe(func(ev Event) { got = ev })
	Emit(b, Event{Type: AgentStarted})
	if got.At.IsZero() {
		t.Error("expected timestamp")
	}
	Emit(nil, Event{Type: AgentStarted})
}

func TestChannelDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub, dropped := b.Channel(1)

	Emit(b, Event{Type: StreamChunk, Text: "a"})
	Emit(b, Event{Type: StreamChunk, Text: "b"})

	if ev := <-ch; ev.Text != "a" {
		t.Errorf("expected first event, got %q", ev.Text)
	}
	if dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped())
	}

	unsub()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after unsubscribe")
	}
	Emit(b, Event{Type: StreamChunk})
}
