package dodo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// toolTestSession connects a client to a test server that issues the given
// tool calls and collects every toolResponse frame the client sends back.
func toolTestSession(t *testing.T, serverScript func(conn *websocket.Conn, responses chan<- map[string]any)) (*LiveClient, <-chan map[string]any, func()) {
	t.Helper()

	responses := make(chan map[string]any, 8)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		readSetup(t, conn)
		serverScript(conn, responses)
	}))

	client := NewLiveClient(WithAPIKey("test-key"),
		WithEndpoint("ws"+strings.TrimPrefix(server.URL, "http")))
	return client, responses, server.Close
}

func collectToolResponses(conn *websocket.Conn, responses chan<- map[string]any) {
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if tr, ok := msg["toolResponse"].(map[string]any); ok {
			if frs, ok := tr["functionResponses"].([]any); ok {
				for _, fr := range frs {
					responses <- fr.(map[string]any)
				}
			}
		}
	}
}

func TestToolRegistry_ExecutesHandlerAndResponds(t *testing.T) {
	t.Parallel()

	client, responses, closeServer := toolTestSession(t, func(conn *websocket.Conn, out chan<- map[string]any) {
		_ = conn.WriteJSON(map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []any{
					map[string]any{"name": "roll_die", "id": "fc_1", "args": map[string]any{"sides": 6}},
				},
			},
		})
		collectToolResponses(conn, out)
	})
	defer closeServer()

	registry := NewToolRegistry()
	registry.Register("roll_die", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sides, _ := args["sides"].(float64)
		return map[string]any{"value": sides}, nil
	})
	defer registry.Bind(context.Background(), client)()

	if err := client.Connect(context.Background(), LiveConfig{Model: "gemini-2.0-flash-live-001"}); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer client.Disconnect()

	select {
	case fr := <-responses:
		if fr["id"] != "fc_1" || fr["name"] != "roll_die" {
			t.Fatalf("response = %v", fr)
		}
		resp, _ := fr["response"].(map[string]any)
		if resp["value"] != float64(6) {
			t.Fatalf("response payload = %v", resp)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no tool response received")
	}
}

func TestToolRegistry_UnregisteredToolGetsErrorResponse(t *testing.T) {
	t.Parallel()

	client, responses, closeServer := toolTestSession(t, func(conn *websocket.Conn, out chan<- map[string]any) {
		_ = conn.WriteJSON(map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []any{map[string]any{"name": "missing", "id": "fc_2"}},
			},
		})
		collectToolResponses(conn, out)
	})
	defer closeServer()

	registry := NewToolRegistry()
	defer registry.Bind(context.Background(), client)()

	if err := client.Connect(context.Background(), LiveConfig{Model: "gemini-2.0-flash-live-001"}); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer client.Disconnect()

	select {
	case fr := <-responses:
		raw, _ := json.Marshal(fr)
		if !strings.Contains(string(raw), "tool_not_registered") {
			t.Fatalf("response = %s, want tool_not_registered error", raw)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no error response received")
	}
}

func TestToolRegistry_CancellationStopsInFlightCall(t *testing.T) {
	t.Parallel()

	client, responses, closeServer := toolTestSession(t, func(conn *websocket.Conn, out chan<- map[string]any) {
		_ = conn.WriteJSON(map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []any{map[string]any{"name": "slow", "id": "fc_3"}},
			},
		})
		time.Sleep(50 * time.Millisecond)
		_ = conn.WriteJSON(map[string]any{
			"toolCallCancellation": map[string]any{"ids": []any{"fc_3"}},
		})
		collectToolResponses(conn, out)
	})
	defer closeServer()

	cancelled := make(chan struct{})
	registry := NewToolRegistry()
	registry.Register("slow", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})
	defer registry.Bind(context.Background(), client)()

	if err := client.Connect(context.Background(), LiveConfig{Model: "gemini-2.0-flash-live-001"}); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer client.Disconnect()

	select {
	case <-cancelled:
	case <-time.After(3 * time.Second):
		t.Fatalf("handler context was never cancelled")
	}

	// A withdrawn call sends no response at all.
	select {
	case fr := <-responses:
		t.Fatalf("unexpected response for cancelled call: %v", fr)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestToolRegistry_TimeoutProducesTimeoutResponse(t *testing.T) {
	t.Parallel()

	client, responses, closeServer := toolTestSession(t, func(conn *websocket.Conn, out chan<- map[string]any) {
		_ = conn.WriteJSON(map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []any{map[string]any{"name": "stuck", "id": "fc_4"}},
			},
		})
		collectToolResponses(conn, out)
	})
	defer closeServer()

	registry := NewToolRegistry(WithToolTimeout(50 * time.Millisecond))
	registry.Register("stuck", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	defer registry.Bind(context.Background(), client)()

	if err := client.Connect(context.Background(), LiveConfig{Model: "gemini-2.0-flash-live-001"}); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer client.Disconnect()

	select {
	case fr := <-responses:
		raw, _ := json.Marshal(fr)
		if !strings.Contains(string(raw), "tool_timeout") {
			t.Fatalf("response = %s, want tool_timeout error", raw)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no timeout response received")
	}
}
