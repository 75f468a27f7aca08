// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/burrow/internal/directory"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/gateway"
	"github.com/user/burrow/internal/state"
	"github.com/user/burrow/internal/types"
)

// Conversation is the part of the coordinator the server drives.
type Conversation interface {
	SubmitUser(content string, source types.Origin, onComplete func(string)) (*gateway.Interaction, error)
	Len() int
	Preview(n int) []string
	Busy() bool
	ClearConversation(ctx context.Context) error
}

// Agents manages background agents.
type Agents interface {
	List() []*directory.Agent
	Lookup(ref string) (*directory.Agent, error)
	Send(ctx context.Context, ref, message string) (*directory.Agent, bool, error)
	Clear(ctx context.Context) (int, error)
}

// Server is the HTTP API: conversation, queue, agents, task webhooks and a
// websocket event stream.
type Server struct {
	conv       Conversation
	agents     Agents
	transcript *state.Transcript
	tasks      *state.TaskStore
	bus        *events.EventBus
	mux        *http.ServeMux
}

// New creates a Server and registers its routes.
func New(conv Conversation, agents Agents, transcript *state.Transcript, tasks *state.TaskStore, bus *events.EventBus) *Server {
	s := &Server{
		conv:       conv,
		agents:     agents,
		transcript: transcript,
		tasks:      tasks,
		bus:        bus,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/messages", s.handlePostMessage)
	s.mux.HandleFunc("GET /api/messages", s.handleGetMessages)
	s.mux.HandleFunc("DELETE /api/messages", s.handleClearMessages)
	s.mux.HandleFunc("GET /api/queue", s.handleQueue)
	s.mux.HandleFunc("GET /api/agents", s.handleListAgents)
	s.mux.HandleFunc("DELETE /api/agents", s.handleClearAgents)
	s.mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/messages", s.handleAgentMessage)
	s.mux.HandleFunc("POST /webhook/{name}", s.handleNamedTask)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queue":  s.conv.Len(),
		"agents": len(s.agents.List()),
	})
}

// messageRequest is the JSON body for POST /api/messages.
type messageRequest struct {
	Content string `json:"content"`
	Wait    bool   `json:"wait"`
}

// submitAndWait queues content and blocks until its reply or ctx ends.
func (s *Server) submitAndWait(ctx context.Context, content string, source types.Origin) (string, error) {
	done := make(chan string, 1)
	if _, err := s.conv.SubmitUser(content, source, func(reply string) { done <- reply }); err != nil {
		return "", err
	}
	select {
	case reply := <-done:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if req.Wait {
		reply, err := s.submitAndWait(r.Context(), req.Content, "http:api")
		if err != nil {
			slog.Error("api message failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"response": reply})
		return
	}

	it, err := s.conv.SubmitUser(req.Content, "http:api", nil)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": it.ID, "queue_length": s.conv.Len()})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.transcript.Messages(r.Context())
	if err != nil {
		slog.Error("read transcript", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	calls, err := s.transcript.ToolCalls(r.Context())
	if err != nil {
		slog.Error("read tool calls", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if msgs == nil {
		msgs = []state.Message{}
	}
	if calls == nil {
		calls = []state.ToolCallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "tool_calls": calls})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.ClearConversation(r.Context()); err != nil {
		slog.Error("clear conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	preview := s.conv.Preview(-1)
	if preview == nil {
		preview = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"length":  s.conv.Len(),
		"preview": preview,
		"busy":    s.conv.Busy(),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agents.List())
}

func (s *Server) handleClearAgents(w http.ResponseWriter, r *http.Request) {
	n, err := s.agents.Clear(r.Context())
	if err != nil {
		slog.Error("clear agents", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.Lookup(r.PathValue("id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAgentMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	a, resumed, err := s.agents.Send(r.Context(), r.PathValue("id"), body.Message)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": a.ID(), "resumed": resumed})
}

func writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, directory.ErrAmbiguous):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// namedTaskRequest is the optional JSON body for POST /webhook/{name}.
type namedTaskRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleNamedTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	task, err := s.tasks.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if !task.Enabled {
		writeError(w, http.StatusForbidden, "task is disabled")
		return
	}

	prompt := task.Prompt
	// Allow body to override the prompt
	var body namedTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Prompt != "" {
		prompt = body.Prompt
	}

	reply, err := s.submitAndWait(r.Context(), prompt, task.Source())
	if err != nil {
		slog.Error("webhook task failed", "task", name, "error", err)
		writeError(w, http.StatusServiceUnavailable, "task could not be run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}
