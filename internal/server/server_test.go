package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/burrow/internal/directory"
	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/gateway"
	"github.com/user/burrow/internal/state"
	"github.com/user/burrow/internal/types"
	"github.com/user/burrow/pkg/llm"
	"github.com/user/burrow/pkg/llm/llmtest"
)

type fakeAgents struct {
	dir  *directory.Directory
	sent []string
}

func (f *fakeAgents) List() []*directory.Agent { return f.dir.List() }
func (f *fakeAgents) Lookup(ref string) (*directory.Agent, error) {
	return f.dir.Lookup(ref)
}
func (f *fakeAgents) Send(_ context.Context, ref, message string) (*directory.Agent, bool, error) {
	a, err := f.dir.Lookup(ref)
	if err != nil {
		return nil, false, err
	}
	f.sent = append(f.sent, message)
	return a, false, nil
}
func (f *fakeAgents) Clear(ctx context.Context) (int, error) { return f.dir.Clear(ctx) }

type fixture struct {
	srv    *Server
	coord  *gateway.Coordinator
	tr     *state.Transcript
	agents *fakeAgents
	bus    *events.EventBus
}

func setup(t *testing.T, tasks ...*state.Task) *fixture {
	t.Helper()
	dir := t.TempDir()
	bus := events.New()
	tr := state.NewTranscript(filepath.Join(dir, "conversation"))
	store := state.NewTaskStore(filepath.Join(dir, "tasks.json"))
	for _, task := range tasks {
		if err := store.Add(task); err != nil {
			t.Fatal(err)
		}
	}

	coord := gateway.New(tr, llmtest.New(), 100000, bus)
	coord.SetProcessor(func(ctx context.Context, it *gateway.Interaction) error {
		in := gateway.ToMessage(it)
		idx, err := tr.Append(ctx, in)
		if err != nil {
			return err
		}
		events.Emit(bus, events.Event{Type: events.MessageAppended, Role: in.Role, Text: in.Content, MessageIndex: idx})
		reply := "re: " + it.Content
		if _, err := tr.Append(ctx, state.Message{Role: state.RoleAssistant, Content: reply}); err != nil {
			return err
		}
		if it.OnComplete != nil {
			it.OnComplete(reply)
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)
	t.Cleanup(func() {
		cancel()
		coord.Stop()
	})

	agents := &fakeAgents{dir: directory.New(directory.NewFileStore(filepath.Join(dir, "agents")), bus, 0)}
	return &fixture{srv: New(coord, agents, tr, store, bus), coord: coord, tr: tr, agents: agents, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestPostMessageWait(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/messages", `{"content":"say hi","wait":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["response"] != "re: say hi" {
		t.Errorf("response = %q", resp["response"])
	}

	w = f.do(t, http.MethodGet, "/api/messages", "")
	var hist struct {
		Messages []state.Message `json:"messages"`
	}
	decode(t, w, &hist)
	if len(hist.Messages) != 2 || hist.Messages[0].Source != "http:api" {
		t.Errorf("messages = %+v", hist.Messages)
	}
}

func TestPostMessageAsync(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/messages", `{"content":"later"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if !f.coord.WaitIdle(2 * time.Second) {
		t.Fatal("coordinator did not go idle")
	}
	n, _ := f.tr.Len(context.Background())
	if n != 2 {
		t.Errorf("expected 2 messages, got %d", n)
	}
}

func TestPostMessageValidation(t *testing.T) {
	f := setup(t)
	if w := f.do(t, http.MethodPost, "/api/messages", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/messages", `{"content":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty content: got %d", w.Code)
	}
}

func TestClearMessages(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodPost, "/api/messages", `{"content":"one","wait":true}`)
	if w := f.do(t, http.MethodDelete, "/api/messages", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	n, _ := f.tr.Len(context.Background())
	if n != 0 {
		t.Errorf("expected empty transcript, got %d", n)
	}
}

func TestQueueEndpoint(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/api/queue", "")
	var resp struct {
		Length  int      `json:"length"`
		Preview []string `json:"preview"`
	}
	decode(t, w, &resp)
	if resp.Length != 0 || resp.Preview == nil {
		t.Errorf("queue = %+v", resp)
	}
}

func addAgent(t *testing.T, f *fixture, id types.AgentID) {
	t.Helper()
	now := time.Now()
	a := directory.NewAgent(directory.Record{
		ID: id, Task: "watch the build", Status: directory.StatusCompleted,
		LastActivity: now, CreatedAt: now,
		History: []llm.Message{{Role: llm.RoleUser, Content: "watch the build"}},
	})
	if err := f.agents.dir.Add(context.Background(), a); err != nil {
		t.Fatal(err)
	}
}

func TestAgentEndpoints(t *testing.T) {
	f := setup(t)
	addAgent(t, f, "abcdef0123456789")

	w := f.do(t, http.MethodGet, "/api/agents", "")
	var list []map[string]any
	decode(t, w, &list)
	if len(list) != 1 || list[0]["task"] != "watch the build" {
		t.Fatalf("agents = %v", list)
	}

	w = f.do(t, http.MethodGet, "/api/agents/abcdef", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get by prefix: %d", w.Code)
	}
	var one struct {
		ID      string                   `json:"id"`
		Display []directory.DisplayEntry `json:"display"`
	}
	decode(t, w, &one)
	if one.ID != "abcdef0123456789" || len(one.Display) != 1 {
		t.Errorf("agent = %+v", one)
	}

	if w := f.do(t, http.MethodGet, "/api/agents/zzz", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown agent: %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/agents/abcdef/messages", `{"message":"again please"}`)
	if w.Code != http.StatusAccepted || len(f.agents.sent) != 1 {
		t.Errorf("send: %d, sent %v", w.Code, f.agents.sent)
	}

	w = f.do(t, http.MethodDelete, "/api/agents", "")
	var cleared map[string]int
	decode(t, w, &cleared)
	if cleared["removed"] != 1 || f.agents.dir.Len() != 0 {
		t.Errorf("clear = %v", cleared)
	}
}

func TestWebhookNamedTask(t *testing.T) {
	f := setup(t, &state.Task{Name: "digest", Prompt: "summarize today", Enabled: true})

	w := f.do(t, http.MethodPost, "/webhook/digest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["response"] != "re: summarize today" {
		t.Errorf("response = %q", resp["response"])
	}

	msgs, _ := f.tr.Messages(context.Background())
	if msgs[0].Source != "scheduler:digest" {
		t.Errorf("source = %q", msgs[0].Source)
	}

	w = f.do(t, http.MethodPost, "/webhook/digest", `{"prompt":"override"}`)
	decode(t, w, &resp)
	if resp["response"] != "re: override" {
		t.Errorf("override response = %q", resp["response"])
	}
}

func TestWebhookTaskErrors(t *testing.T) {
	f := setup(t, &state.Task{Name: "off", Prompt: "x", Enabled: false})
	if w := f.do(t, http.MethodPost, "/webhook/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing task: %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/webhook/off", ""); w.Code != http.StatusForbidden {
		t.Errorf("disabled task: %d", w.Code)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := setup(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// wait for the server to subscribe before sending
	deadline := time.Now().Add(2 * time.Second)
	for f.bus.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := ws.WriteJSON(map[string]string{"content": "hello over ws"}); err != nil {
		t.Fatal(err)
	}

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev events.Event
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == events.MessageAppended && ev.Text == "hello over ws" {
			break
		}
	}
}
