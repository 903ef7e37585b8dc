package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/lokutor-realtime/pkg/orchestrator"
)

func TestWebSocketDialer(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotModel := make(chan string, 1)
	received := make(chan map[string]interface{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization") + "|" + r.Header.Get("OpenAI-Beta")
		gotModel <- r.URL.Query().Get("model")

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		wsjson.Write(r.Context(), conn, map[string]interface{}{"type": "session.created"})

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		received <- req
	}))
	defer server.Close()

	dialer := NewWebSocketDialer("test-key").WithURL("ws" + strings.TrimPrefix(server.URL, "http"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	if auth := <-gotAuth; auth != "Bearer test-key|realtime=v1" {
		t.Errorf("unexpected handshake headers %q", auth)
	}
	if model := <-gotModel; model != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, model)
	}

	raw, err := conn.ReadEvent(ctx)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	ev, err := orchestrator.ParseEvent(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != orchestrator.EventSessionCreated {
		t.Errorf("expected session.created after skipping binary frame, got %s", ev.Type)
	}

	if err := conn.WriteEvent(ctx, map[string]interface{}{"type": "response.cancel", "event_id": "evt_1"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	select {
	case req := <-received:
		if req["type"] != "response.cancel" || req["event_id"] != "evt_1" {
			t.Errorf("unexpected event on server %v", req)
		}
	case <-ctx.Done():
		t.Fatal("server never received the event")
	}

	if err := conn.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
}

func TestWebSocketDialerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	dialer := NewWebSocketDialer("bad-key").WithURL("ws" + strings.TrimPrefix(server.URL, "http")).WithModel("")
	if _, err := dialer.Dial(context.Background()); err == nil {
		t.Fatal("expected dial error for rejected handshake")
	}
}

func TestWebSocketDialerWithOrchestrator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		wsjson.Write(r.Context(), conn, map[string]interface{}{"type": "session.created"})
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var msg map[string]interface{}
			if json.Unmarshal(data, &msg) == nil && msg["type"] == "session.update" {
				wsjson.Write(r.Context(), conn, map[string]interface{}{"type": "session.updated"})
			}
		}
	}))
	defer server.Close()

	dialer := NewWebSocketDialer("test-key").WithURL("ws" + strings.TrimPrefix(server.URL, "http"))
	orch := orchestrator.New(dialer, nil, nil, orchestrator.DefaultConfig())

	updated := make(chan struct{}, 1)
	orch.SetEventObserver(func(ev orchestrator.Event) {
		if ev.Kind == orchestrator.EventSessionUpdated {
			updated <- struct{}{}
		}
	})

	if err := orch.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer orch.Disconnect()

	select {
	case <-updated:
	case <-time.After(5 * time.Second):
		t.Fatal("expected session.updated after the session bootstrap")
	}
}
