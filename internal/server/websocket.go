package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/burrow/internal/types"
)

const (
	wsBuffer   = 256
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket streams every bus event to the client as JSON and accepts
// {"content": "..."} frames as user messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	updates, unsubscribe, dropped := s.bus.Channel(wsBuffer)
	source := types.NewOrigin("ws", r.RemoteAddr)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer goroutine: pushes events to the client.
	go func() {
		defer wg.Done()
		defer ws.Close()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case ev, ok := <-updates:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteJSON(ev); err != nil {
					slog.Debug("websocket write", "error", err)
					return
				}
			case <-ticker.C:
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: receives user messages.
	for {
		var msg struct {
			Content string `json:"content"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read", "error", err)
			}
			break
		}
		if msg.Content == "" {
			continue
		}
		if _, err := s.conv.SubmitUser(msg.Content, source, nil); err != nil {
			slog.Error("submit websocket message", "error", err)
		}
	}

	close(done)
	unsubscribe()
	wg.Wait()
	if n := dropped(); n > 0 {
		slog.Warn("websocket client missed events", "remote", r.RemoteAddr, "dropped", n)
	}
}
