// Package agent runs background agents: creation, the tool-calling episode
// loop, follow-up messages, stop requests and recovery after a restart.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	ctxengine "github.com/user/burrow/internal/context"
	"github.com/user/burrow/internal/directory"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/runtime"
	"github.com/user/burrow/internal/runtime/tools"
	"github.com/user/burrow/internal/supervisor"
	"github.com/user/burrow/internal/types"
	"github.com/user/burrow/pkg/llm"
)

var (
	ErrTaskTooShort    = errors.New("task is too short")
	ErrCooldown        = errors.New("agents are being created too quickly")
	ErrAgentNotFound   = directory.ErrNotFound
	ErrUnknownProvider = llm.ErrUnknownProvider
	ErrNotRunning      = errors.New("agent is not running")
)

const (
	DefaultMaxIterations = 20
	DefaultMinTaskLength = 10
	DefaultCooldown      = 2 * time.Second
)

// Reporter delivers agent reports to the main conversation.
type Reporter interface {
	SubmitAgentReport(ctx context.Context, id types.AgentID, content string) error
}

// Options configures a Runtime.
type Options struct {
	Directory  *directory.Directory
	Providers  *llm.Registry
	Tools      *runtime.Registry // offered to every agent, report_to_main is added
	Reporter   Reporter
	Supervisor *supervisor.Supervisor
	Bus        *events.EventBus
	Retry      *runtime.RetryPolicy

	MaxIterations int
	MinTaskLength int
	Cooldown      time.Duration
	WorkDir       string

	Now func() time.Time
}

// Runtime owns every agent episode.
type Runtime struct {
	opts  Options
	tools *runtime.Registry

	mu         sync.Mutex
	lastCreate time.Time
	sessions   map[types.AgentID]*tools.Session

	render func(ctxengine.AgentPromptData) (string, error)
}

// New creates a Runtime.
func New(opts Options) *Runtime {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MinTaskLength <= 0 {
		opts.MinTaskLength = DefaultMinTaskLength
	}
	if opts.Retry == nil {
		opts.Retry = runtime.DefaultRetryPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base := opts.Tools
	if base == nil {
		base = runtime.NewRegistry()
	}
	r := &Runtime{
		opts:     opts,
		sessions: make(map[types.AgentID]*tools.Session),
		render:   ctxengine.RenderAgent,
	}
	r.tools = base.With(&ReportTool{rt: r})
	return r
}

// Start validates task and creates an agent running it with the given
// provider, or the default one when provider is empty. Nothing is created or
// persisted when validation fails.
func (r *Runtime) Start(ctx context.Context, task, provider string) (*directory.Agent, error) {
	task = strings.TrimSpace(task)
	if utf8.RuneCountInString(task) < r.opts.MinTaskLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrTaskTooShort, r.opts.MinTaskLength)
	}
	entry, err := r.opts.Providers.Resolve(provider)
	if err != nil {
		return nil, err
	}

	now := r.opts.Now()
	r.mu.Lock()
	if since := now.Sub(r.lastCreate); !r.lastCreate.IsZero() && since < r.opts.Cooldown {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: wait %s", ErrCooldown, (r.opts.Cooldown - since).Round(100*time.Millisecond))
	}
	id := types.NewAgentID()
	system, err := r.render(ctxengine.AgentPromptData{
		AgentID: string(id),
		Task:    task,
		WorkDir: r.opts.WorkDir,
		Tools:   r.tools.Names(),
	})
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	// the window starts only once an agent is actually built
	r.lastCreate = now
	r.mu.Unlock()

	a := directory.NewAgent(directory.Record{
		ID:           id,
		Task:         task,
		Status:       directory.StatusRunning,
		LastActivity: now,
		CreatedAt:    now,
		History:      []llm.Message{{Role: llm.RoleUser, Content: task}},
		SystemPrompt: system,
		Provider:     entry.ID,
	})
	// a failed first checkpoint is logged; the agent still runs from memory
	_ = r.opts.Directory.Add(ctx, a)

	slog.Info("agent started", "agent", id, "provider", entry.ID)
	events.Emit(r.opts.Bus, events.Event{Type: events.AgentStarted, AgentID: id, Text: task})
	r.launch(a)
	return a, nil
}

// Send queues a message from the main conversation for the agent ref (a full
// ID or unique prefix). A completed agent is resumed.
func (r *Runtime) Send(ctx context.Context, ref, message string) (a *directory.Agent, resumed bool, err error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, false, errors.New("message is empty")
	}
	a, err = r.opts.Directory.Lookup(ref)
	if err != nil {
		return nil, false, err
	}
	resumed, err = a.Enqueue(r.opts.Now(), message)
	if err != nil {
		return nil, false, err
	}
	_ = r.opts.Directory.Checkpoint(ctx, a)
	if resumed {
		slog.Info("agent resumed", "agent", a.ID())
		events.Emit(r.opts.Bus, events.Event{Type: events.AgentResumed, AgentID: a.ID(), Text: message})
		r.launch(a)
	}
	return a, resumed, nil
}

// Stop asks a running agent to finish at its next cycle boundary. The
// in-flight model call is not interrupted.
func (r *Runtime) Stop(_ context.Context, ref string) (*directory.Agent, error) {
	a, err := r.opts.Directory.Lookup(ref)
	if err != nil {
		return nil, err
	}
	if !a.RequestStop() {
		return a, fmt.Errorf("%w: %s", ErrNotRunning, a.ID().Short())
	}
	slog.Info("agent stop requested", "agent", a.ID())
	return a, nil
}

// Restore loads every stored agent and resumes the ones that were running
// when the process last exited, each with one extra turn telling it so.
func (r *Runtime) Restore(ctx context.Context) (int, error) {
	interrupted, err := r.opts.Directory.Load(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range interrupted {
		a.Append(r.opts.Now(), llm.Message{Role: llm.RoleUser, Content: directory.InterruptedTurn})
		a.AddDisplay(directory.DisplayEntry{Kind: directory.DisplayNotice, Text: directory.InterruptedTurn})
		_ = r.opts.Directory.Checkpoint(ctx, a)
		slog.Info("agent recovered", "agent", a.ID())
		events.Emit(r.opts.Bus, events.Event{Type: events.AgentResumed, AgentID: a.ID()})
		r.launch(a)
	}
	return len(interrupted), nil
}

// Clear stops every running agent and removes all agents.
func (r *Runtime) Clear(ctx context.Context) (int, error) {
	for _, a := range r.opts.Directory.List() {
		a.RequestStop()
	}
	n, err := r.opts.Directory.Clear(ctx)
	r.mu.Lock()
	r.sessions = make(map[types.AgentID]*tools.Session)
	r.mu.Unlock()
	return n, err
}

// Lookup resolves a full agent ID or a unique prefix of one.
func (r *Runtime) Lookup(ref string) (*directory.Agent, error) {
	return r.opts.Directory.Lookup(ref)
}

// List returns every agent, oldest first.
func (r *Runtime) List() []*directory.Agent {
	return r.opts.Directory.List()
}

// Describe renders one line per agent for prompts and tool output.
func (r *Runtime) Describe() string {
	var b strings.Builder
	for _, a := range r.opts.Directory.List() {
		fmt.Fprintf(&b, "- %s [%s] %s\n", a.ID().Short(), a.Status(), preview(a.Task(), 80))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// InFlight returns how many episodes are running or waiting for a slot.
func (r *Runtime) InFlight() int64 {
	return r.opts.Supervisor.InFlight()
}

func (r *Runtime) launch(a *directory.Agent) {
	r.opts.Supervisor.Go("agent "+a.ID().Short(), func(ctx context.Context) error {
		return r.run(ctx, a)
	})
}

func (r *Runtime) session(id types.AgentID) *tools.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &tools.Session{AgentID: string(id), Reads: tools.NewReadTracker()}
		r.sessions[id] = s
	}
	return s
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
