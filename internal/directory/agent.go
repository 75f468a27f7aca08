// Package directory holds every background agent in memory, persists one
// durable record per agent, and removes completed agents once idle.
package directory

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/user/burrow/internal/types"
	"github.com/user/burrow/pkg/llm"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Record is the durable form of an agent. Display entries are not part of it;
// they are rebuilt from History on load.
type Record struct {
	ID           types.AgentID `json:"id"`
	Task         string        `json:"task"`
	Status       Status        `json:"status"`
	LastActivity time.Time     `json:"last_activity_time"`
	CreatedAt    time.Time     `json:"created_at"`
	History      []llm.Message `json:"conversation_history"`
	SystemPrompt string        `json:"system_prompt"`
	Provider     string        `json:"provider"`
	Incoming     []string      `json:"incoming_messages"`
	Reports      []string      `json:"reports,omitempty"`
}

// Clone returns a copy that shares no slices with r.
func (r Record) Clone() Record {
	out := r
	out.History = make([]llm.Message, len(r.History))
	for i, m := range r.History {
		m.Tools = append([]llm.ToolCall(nil), m.Tools...)
		m.Results = append([]llm.ToolResult(nil), m.Results...)
		out.History[i] = m
	}
	out.Incoming = append([]string(nil), r.Incoming...)
	out.Reports = append([]string(nil), r.Reports...)
	return out
}

// Agent is the live state of one background agent. History is only changed by
// the agent's own episode; the lock exists so that readers, the garbage
// collector and message senders see consistent snapshots.
type Agent struct {
	mu       sync.Mutex
	save     sync.Mutex // held across snapshot and store writes
	rec      Record
	display  []DisplayEntry
	reported bool // sent a report during the current episode
	stopping bool
	removed  bool
}

// NewAgent wraps rec. The display is rebuilt from its history.
func NewAgent(rec Record) *Agent {
	return &Agent{rec: rec.Clone(), display: BuildDisplay(rec.History)}
}

// ID, Task and CreatedAt never change after creation.
func (a *Agent) ID() types.AgentID { return a.rec.ID }
func (a *Agent) Task() string { return a.rec.Task }
func (a *Agent) CreatedAt() time.Time { return a.rec.CreatedAt }

// Snapshot returns a deep copy of the durable state.
func (a *Agent) Snapshot() Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec.Clone()
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec.Status
}

func (a *Agent) SystemPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec.SystemPrompt
}

func (a *Agent) Provider() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec.Provider
}

// History returns a copy of the conversation history.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.rec.History...)
}

// Append adds messages to the history and refreshes the activity time.
func (a *Agent) Append(now time.Time, msgs ...llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.History = append(a.rec.History, msgs...)
	a.rec.LastActivity = now
}

// ReplaceHistory swaps the whole history, as compaction does.
func (a *Agent) ReplaceHistory(now time.Time, msgs []llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.History = append([]llm.Message(nil), msgs...)
	a.rec.LastActivity = now
}

// Display returns a copy of the display log.
func (a *Agent) Display() []DisplayEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]DisplayEntry(nil), a.display...)
}

// AddDisplay appends an entry and returns its position.
func (a *Agent) AddDisplay(e DisplayEntry) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	a.display = append(a.display, e)
	return len(a.display) - 1
}

// SetDisplayOutput fills in the output of the tool-call entry at i.
func (a *Agent) SetDisplayOutput(i int, output string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= 0 && i < len(a.display) {
		a.display[i].Output = output
	}
}

// Enqueue adds a message from the main conversation. If the agent is
// completed it is switched back to running and resumed reports true; the
// caller must then start a new episode.
func (a *Agent) Enqueue(now time.Time, msg string) (resumed bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.removed {
		return false, ErrNotFound
	}
	a.rec.Incoming = append(a.rec.Incoming, msg)
	a.rec.LastActivity = now
	if a.rec.Status == StatusCompleted {
		a.rec.Status = StatusRunning
		a.reported = false
		return true, nil
	}
	return false, nil
}

// Dequeue pops the oldest incoming message.
func (a *Agent) Dequeue() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.rec.Incoming) == 0 {
		return "", false
	}
	msg := a.rec.Incoming[0]
	a.rec.Incoming = a.rec.Incoming[1:]
	return msg, true
}

// Pending reports whether incoming messages are waiting.
func (a *Agent) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rec.Incoming) > 0
}

// Report records msg as sent to the main conversation. It returns false
// without recording anything when msg repeats the previous report.
func (a *Agent) Report(now time.Time, msg string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.LastActivity = now
	if n := len(a.rec.Reports); n > 0 && a.rec.Reports[n-1] == msg {
		a.reported = true
		return false
	}
	a.rec.Reports = append(a.rec.Reports, msg)
	a.reported = true
	return true
}

// LastReport returns the most recent message sent to the main conversation.
func (a *Agent) LastReport() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.rec.Reports); n > 0 {
		return a.rec.Reports[n-1]
	}
	return ""
}

// Reported reports whether the current episode has sent a report.
func (a *Agent) Reported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reported
}

// RequestStop asks a running episode to end at its next cycle boundary and
// drops any queued messages. It returns false if the agent is not running.
func (a *Agent) RequestStop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rec.Status != StatusRunning {
		return false
	}
	a.stopping = true
	a.rec.Incoming = nil
	return true
}

func (a *Agent) Stopping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopping
}

// Finish marks the agent completed unless messages arrived that the episode
// has not seen yet, in which case it returns false and the episode must go
// on. With force set the agent is completed regardless.
func (a *Agent) Finish(now time.Time, force bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopping = false
	if !force && len(a.rec.Incoming) > 0 {
		return false
	}
	a.rec.Status = StatusCompleted
	a.rec.LastActivity = now
	return true
}

// BeginEpisode resets the per-episode report flag.
func (a *Agent) BeginEpisode() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reported = false
}

// Removed reports whether the agent was dropped from the directory.
func (a *Agent) Removed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.removed
}

// expire marks the agent removed if it is completed and idle past cutoff.
func (a *Agent) expire(cutoff time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.removed || a.rec.Status != StatusCompleted || !a.rec.LastActivity.Before(cutoff) {
		return false
	}
	a.removed = true
	return true
}

func (a *Agent) markRemoved() {
	a.mu.Lock()
	a.removed = true
	a.mu.Unlock()
}

// MarshalJSON renders the agent for API consumers: the record without its
// history, plus the display log.
func (a *Agent) MarshalJSON() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(struct {
		ID           types.AgentID  `json:"id"`
		Task         string         `json:"task"`
		Status       Status         `json:"status"`
		Provider     string         `json:"provider"`
		CreatedAt    time.Time      `json:"created_at"`
		LastActivity time.Time      `json:"last_activity_time"`
		Pending      int            `json:"pending_messages"`
		Display      []DisplayEntry `json:"display"`
	}{a.rec.ID, a.rec.Task, a.rec.Status, a.rec.Provider, a.rec.CreatedAt, a.rec.LastActivity, len(a.rec.Incoming), a.display})
}
