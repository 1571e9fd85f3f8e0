package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/user/agentgate/pkg/agent"
)

// Client implements the agent.Backend interface against an HTTP service
// that streams newline-delimited JSON exchange events.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// Config holds connection settings for the HTTP backend.
type Config struct {
	BaseURL string
	APIKey  string
}

// New creates a backend client. The HTTP client carries no overall timeout:
// exchanges stream for their full duration and are bounded by the caller's
// context instead.
func New(config *Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// wireEvent is one NDJSON line of the exchange stream.
type wireEvent struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Tool   *agent.ToolCall `json:"tool,omitempty"`
	Result *agent.Result   `json:"result,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// errorBody is the JSON error envelope for non-2xx responses.
type errorBody struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Open starts an exchange via POST /v1/exchanges and returns a handle over
// the response stream. The context governs the whole exchange: cancelling it
// aborts the stream.
func (c *Client) Open(ctx context.Context, req agent.ExchangeRequest) (agent.Exchange, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.config.BaseURL + "/v1/exchanges"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &agent.Error{Kind: agent.ErrorKindUnavailable, Message: "open exchange", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		if eb.Kind == "unknown_session" {
			return nil, &agent.Error{Kind: agent.ErrorKindStaleSession, Message: eb.Error}
		}
		if resp.StatusCode >= 500 {
			return nil, &agent.Error{Kind: agent.ErrorKindUnavailable, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, raw)}
		}
		return nil, &agent.Error{Kind: agent.ErrorKindProtocol, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, raw)}
	}

	id := resp.Header.Get("X-Exchange-Id")
	if id == "" {
		resp.Body.Close()
		return nil, &agent.Error{Kind: agent.ErrorKindProtocol, Message: "missing X-Exchange-Id header"}
	}

	ex := &exchange{
		client:  c,
		id:      id,
		ctx:     ctx,
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		done:    make(chan struct{}),
	}
	ex.scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	// Abort the stream when the exchange context ends; the blocked read in
	// Next unblocks with an error.
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-ex.done:
		}
	}()

	return ex, nil
}

type exchange struct {
	client  *Client
	id      string
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    chan struct{}

	mu       sync.Mutex
	finished bool
	closed   bool
}

func (e *exchange) Next(ctx context.Context) (*agent.StreamEvent, error) {
	e.mu.Lock()
	finished := e.finished
	e.mu.Unlock()
	if finished {
		return nil, io.EOF
	}

	if !e.scanner.Scan() {
		err := e.scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		if e.ctx.Err() != nil || ctx.Err() != nil {
			return nil, &agent.Error{Kind: agent.ErrorKindTimeout, Message: "exchange cancelled", Err: err}
		}
		return nil, &agent.Error{Kind: agent.ErrorKindUnavailable, Message: "stream interrupted", Err: err}
	}

	var we wireEvent
	if err := json.Unmarshal(e.scanner.Bytes(), &we); err != nil {
		return nil, &agent.Error{Kind: agent.ErrorKindProtocol, Message: "decoding stream event", Err: err}
	}

	switch we.Type {
	case agent.EventText:
		return &agent.StreamEvent{Type: agent.EventText, Text: we.Text}, nil
	case agent.EventToolRequest:
		if we.Tool == nil {
			return nil, &agent.Error{Kind: agent.ErrorKindProtocol, Message: "tool_request event without tool"}
		}
		return &agent.StreamEvent{Type: agent.EventToolRequest, Tool: we.Tool}, nil
	case agent.EventResult:
		if we.Result == nil {
			return nil, &agent.Error{Kind: agent.ErrorKindProtocol, Message: "result event without result"}
		}
		e.mu.Lock()
		e.finished = true
		e.mu.Unlock()
		return &agent.StreamEvent{Type: agent.EventResult, Result: we.Result}, nil
	case "error":
		if we.Kind == "unknown_session" {
			return nil, &agent.Error{Kind: agent.ErrorKindStaleSession, Message: we.Error}
		}
		return nil, &agent.Error{Kind: agent.ErrorKindUnavailable, Message: we.Error}
	default:
		// Skip unknown event types rather than failing the exchange.
		return e.Next(ctx)
	}
}

// decisionRequest is the body for POST /v1/exchanges/{id}/decisions.
type decisionRequest struct {
	CallID string `json:"call_id"`
	agent.Decision
}

// Decide posts the decision for a pending tool call. The backend does not
// continue the stream until the decision is acknowledged.
func (e *exchange) Decide(ctx context.Context, callID string, d agent.Decision) error {
	body, err := json.Marshal(decisionRequest{CallID: callID, Decision: d})
	if err != nil {
		return fmt.Errorf("marshaling decision: %w", err)
	}

	url := e.client.config.BaseURL + "/v1/exchanges/" + e.id + "/decisions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.client.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.client.config.APIKey)
	}

	resp, err := e.client.httpClient.Do(req)
	if err != nil {
		return &agent.Error{Kind: agent.ErrorKindUnavailable, Message: "post decision", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		raw, _ := io.ReadAll(resp.Body)
		return &agent.Error{Kind: agent.ErrorKindProtocol, Message: fmt.Sprintf("decision rejected (status %d): %s", resp.StatusCode, raw)}
	}
	return nil
}

func (e *exchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.done)
	return e.body.Close()
}
