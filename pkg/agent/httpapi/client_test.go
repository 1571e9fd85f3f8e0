package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/agentgate/pkg/agent"
)

func writeEvent(t *testing.T, w http.ResponseWriter, event map[string]any) {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Errorf("marshal event: %v", err)
		return
	}
	fmt.Fprintf(w, "%s\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestOpenStreamsTextAndResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/exchanges" {
			t.Errorf("expected path '/v1/exchanges', got %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}

		var req agent.ExchangeRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		if req.Prompt != "hello" {
			t.Errorf("expected prompt 'hello', got %q", req.Prompt)
		}
		if req.CostCap != 0.5 {
			t.Errorf("expected cost cap 0.5, got %v", req.CostCap)
		}

		w.Header().Set("X-Exchange-Id", "ex-1")
		writeEvent(t, w, map[string]any{"type": "text", "text": "partial"})
		writeEvent(t, w, map[string]any{
			"type":   "result",
			"result": map[string]any{"session_id": "b-1", "text": "done", "cost": 0.02, "num_turns": 1},
		})
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL, APIKey: "test-key"})

	ctx := context.Background()
	ex, err := client.Open(ctx, agent.ExchangeRequest{
		OwnerID:    "u1",
		ContextKey: "proj",
		Prompt:     "hello",
		CostCap:    0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ex.Close()

	ev, err := ex.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != agent.EventText || ev.Text != "partial" {
		t.Errorf("expected text event 'partial', got %+v", ev)
	}

	ev, err = ex.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != agent.EventResult {
		t.Fatalf("expected result event, got %+v", ev)
	}
	if ev.Result.SessionID != "b-1" {
		t.Errorf("expected session 'b-1', got %q", ev.Result.SessionID)
	}
	if ev.Result.Cost != 0.02 {
		t.Errorf("expected cost 0.02, got %v", ev.Result.Cost)
	}

	if _, err := ex.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF after result, got %v", err)
	}
}

func TestToolDecisionRoundTrip(t *testing.T) {
	decided := make(chan agent.Decision, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/exchanges", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Exchange-Id", "ex-2")
		writeEvent(t, w, map[string]any{
			"type": "tool_request",
			"tool": map[string]any{"call_id": "c1", "name": "read_file", "input": map[string]any{"path": "a.txt"}},
		})
		// The stream stays paused until a decision arrives.
		d := <-decided
		if !d.Allow {
			writeEvent(t, w, map[string]any{
				"type":   "result",
				"result": map[string]any{"session_id": "b-2", "text": "denied", "cost": 0.01, "num_turns": 1},
			})
			return
		}
		writeEvent(t, w, map[string]any{
			"type":   "result",
			"result": map[string]any{"session_id": "b-2", "text": "read it", "cost": 0.01, "num_turns": 1},
		})
	})
	mux.HandleFunc("POST /v1/exchanges/{id}/decisions", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "ex-2" {
			t.Errorf("expected exchange id 'ex-2', got %q", r.PathValue("id"))
		}
		var req decisionRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("unmarshal decision: %v", err)
		}
		if req.CallID != "c1" {
			t.Errorf("expected call_id 'c1', got %q", req.CallID)
		}
		decided <- req.Decision
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	ctx := context.Background()

	ex, err := client.Open(ctx, agent.ExchangeRequest{OwnerID: "u1", ContextKey: "proj", Prompt: "read a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	defer ex.Close()

	ev, err := ex.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != agent.EventToolRequest {
		t.Fatalf("expected tool_request event, got %+v", ev)
	}
	if ev.Tool.Name != "read_file" {
		t.Errorf("expected tool 'read_file', got %q", ev.Tool.Name)
	}

	if err := ex.Decide(ctx, ev.Tool.CallID, agent.Decision{Allow: true}); err != nil {
		t.Fatal(err)
	}

	ev, err = ex.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != agent.EventResult || ev.Result.Text != "read it" {
		t.Errorf("expected allowed result, got %+v", ev)
	}
}

func TestOpenStaleSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"kind":"unknown_session","error":"no such session"}`))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	_, err := client.Open(context.Background(), agent.ExchangeRequest{SessionID: "gone", Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
	if agent.KindOf(err) != agent.ErrorKindStaleSession {
		t.Errorf("expected stale_session kind, got %v", agent.KindOf(err))
	}
}

func TestOpenServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	_, err := client.Open(context.Background(), agent.ExchangeRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if agent.KindOf(err) != agent.ErrorKindUnavailable {
		t.Errorf("expected unavailable kind, got %v", agent.KindOf(err))
	}
}

func TestStreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Exchange-Id", "ex-3")
		writeEvent(t, w, map[string]any{"type": "error", "kind": "unknown_session", "error": "expired mid-stream"})
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	ctx := context.Background()
	ex, err := client.Open(ctx, agent.ExchangeRequest{SessionID: "b-old", Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	defer ex.Close()

	_, err = ex.Next(ctx)
	if agent.KindOf(err) != agent.ErrorKindStaleSession {
		t.Errorf("expected stale_session kind from stream, got %v", err)
	}
}

func TestMissingExchangeID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvent(t, w, map[string]any{"type": "text", "text": "hi"})
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL})
	_, err := client.Open(context.Background(), agent.ExchangeRequest{Prompt: "hi"})
	if agent.KindOf(err) != agent.ErrorKindProtocol {
		t.Errorf("expected protocol kind, got %v", err)
	}
}

func TestBackendInterface(t *testing.T) {
	// Verify Client satisfies the agent.Backend interface at compile time.
	var _ agent.Backend = (*Client)(nil)
}
