package agent

import "encoding/json"

// ExchangeRequest describes one request/response cycle with the backend.
type ExchangeRequest struct {
	// SessionID is the backend's opaque resume hint. Empty starts a fresh
	// session; the backend assigns an ID and reports it in the Result.
	SessionID  string  `json:"session_id,omitempty"`
	OwnerID    string  `json:"owner_id"`
	ContextKey string  `json:"context_key"`
	Prompt     string  `json:"prompt"`
	// CostCap is a hard per-exchange spend limit enforced by the backend.
	// Zero means no cap.
	CostCap float64 `json:"cost_cap,omitempty"`
}

// StreamEvent is one incremental event from an in-flight exchange.
type StreamEvent struct {
	Type   string    `json:"type"`
	Text   string    `json:"text,omitempty"`
	Tool   *ToolCall `json:"tool,omitempty"`
	Result *Result   `json:"result,omitempty"`
}

// Stream event types.
const (
	EventText        = "text"
	EventToolRequest = "tool_request"
	EventResult      = "result"
)

// ToolCall is a pending tool invocation. The backend pauses after emitting
// one and does not run the tool until a Decision arrives.
type ToolCall struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
}

// Decision resolves a pending ToolCall before execution.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
	// UpdatedInput optionally replaces the tool input when allowed.
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
}

// Result terminates an exchange.
type Result struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Cost      float64 `json:"cost"`
	NumTurns  int     `json:"num_turns"`
}
