// Package transport streams turn output to a connected client over a
// websocket, for UIs that want to render a turn as it happens rather than
// waiting for it to finish.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codex-go/turnengine/internal/agent/providers"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is one JSON message sent to the client over the websocket.
type Frame struct {
	Type  string               `json:"type"` // "item", "error", "done"
	Item  *providers.StreamItem `json:"item,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// TurnHandler upgrades an HTTP request to a websocket and forwards every
// StreamItem from items onto it as a Frame, closing the connection once the
// channel closes.
type TurnHandler struct {
	Logger *slog.Logger
}

func (h *TurnHandler) ServeTurn(w http.ResponseWriter, r *http.Request, items <-chan providers.StreamItem) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(30 * time.Second))

	for item := range items {
		frame := Frame{Type: "item"}
		switch {
		case item.Err != nil:
			frame.Type = "error"
			frame.Error = item.Err.Error()
		case item.Done:
			frame.Type = "done"
		}
		it := item
		frame.Item = &it

		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			if h.Logger != nil {
				h.Logger.Warn("websocket write failed", "error", err)
			}
			return
		}
		if item.Done {
			return
		}
	}
}
