package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codex-go/turnengine/internal/agent/providers"
	"github.com/codex-go/turnengine/pkg/protocol"
)

func TestServeTurnForwardsItemsAndClosesOnDone(t *testing.T) {
	items := make(chan providers.StreamItem, 3)
	items <- providers.StreamItem{Item: protocol.NewMessage(protocol.RoleAssistant, protocol.OutputText("hi"))}
	items <- providers.StreamItem{Done: true}
	close(items)

	handler := &TurnHandler{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeTurn(w, r, items)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frames []Frame
	for i := 0; i < 2; i++ {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage %d: %v", i, err)
		}
		var f Frame
		if err := json.Unmarshal(payload, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		frames = append(frames, f)
	}

	if frames[0].Type != "item" {
		t.Fatalf("frame[0].Type = %q, want item", frames[0].Type)
	}
	if frames[1].Type != "done" {
		t.Fatalf("frame[1].Type = %q, want done", frames[1].Type)
	}
}

func TestServeTurnReportsErrorFrame(t *testing.T) {
	items := make(chan providers.StreamItem, 1)
	items <- providers.StreamItem{Err: errBoom, Done: true}
	close(items)

	handler := &TurnHandler{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeTurn(w, r, items)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if f.Type != "error" || f.Error != errBoom.Error() {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (e *boomError) Error() string { return "boom" }
