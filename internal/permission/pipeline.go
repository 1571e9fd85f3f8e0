// Package permission evaluates every tool invocation the backend proposes,
// before the tool runs.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/agentgate/internal/types"
)

// Decision is the outcome of one pipeline evaluation.
type Decision struct {
	Allow  bool
	Reason string
	// UpdatedInput carries the possibly-modified tool input when allowed.
	// Nil means the original input stands.
	UpdatedInput json.RawMessage
	// Fatal marks a denial as exchange-fatal: the whole exchange is aborted,
	// not just the one tool call. Set for explicit deny-list hits.
	Fatal bool
}

// Config binds the rule set once at startup. The allow and deny lists are
// closed enumerations, not runtime-mutable sets.
type Config struct {
	Allow        []string
	Deny         []string
	ApprovedRoot string
	// Bypass disables every rule except the audit log write. Only for fully
	// trusted deployments.
	Bypass bool
}

// Pipeline evaluates tool requests against the deny list, allow list, path
// boundary, and shell command boundary, in that order. First decisive rule
// wins. Every decision is audited.
type Pipeline struct {
	allow  map[string]bool
	deny   map[string]bool
	root   string
	bypass bool
	audit  types.AuditLog
}

// New creates a pipeline from the startup configuration.
func New(cfg Config, audit types.AuditLog) *Pipeline {
	p := &Pipeline{
		allow:  make(map[string]bool, len(cfg.Allow)),
		deny:   make(map[string]bool, len(cfg.Deny)),
		root:   cfg.ApprovedRoot,
		bypass: cfg.Bypass,
		audit:  audit,
	}
	for _, name := range cfg.Allow {
		p.allow[name] = true
	}
	for _, name := range cfg.Deny {
		p.deny[name] = true
	}
	return p
}

// Evaluate decides whether the request may run within the given context.
// The decision is appended to the audit log whether allowed or denied; the
// caller must not have let the backend execute the tool yet.
func (p *Pipeline) Evaluate(ctx context.Context, ownerID, contextKey string, req *types.ToolRequest) Decision {
	d := p.decide(contextKey, req)
	p.record(ctx, ownerID, contextKey, req, d)
	return d
}

func (p *Pipeline) decide(contextKey string, req *types.ToolRequest) Decision {
	if p.bypass {
		return Decision{Allow: true, Reason: "validation disabled"}
	}

	if p.deny[req.Tool] {
		return Decision{Reason: fmt.Sprintf("tool %q on deny list", req.Tool), Fatal: true}
	}

	if len(p.allow) > 0 && !p.allow[req.Tool] {
		return Decision{Reason: fmt.Sprintf("tool %q not on allow list", req.Tool)}
	}

	root, err := contextRoot(p.root, contextKey)
	if err != nil {
		return Decision{Reason: err.Error()}
	}

	if paths := pathParams(req.Input); len(paths) > 0 {
		for _, path := range paths {
			if err := withinRoot(root, path); err != nil {
				return Decision{Reason: fmt.Sprintf("path outside approved root: %v", err)}
			}
		}
	}

	if cmd, ok := shellCommand(req.Tool, req.Input); ok {
		if err := checkShellCommand(root, cmd); err != nil {
			return Decision{Reason: err.Error()}
		}
	}

	return Decision{Allow: true, Reason: "no rule matched"}
}

func (p *Pipeline) record(ctx context.Context, ownerID, contextKey string, req *types.ToolRequest, d Decision) {
	decision := types.DecisionDeny
	if d.Allow {
		decision = types.DecisionAllow
	}
	entry := &types.AuditEntry{
		OccurredAt: time.Now(),
		OwnerID:    ownerID,
		ContextKey: contextKey,
		Tool:       req.Tool,
		Decision:   decision,
		Reason:     d.Reason,
		Request:    req.Input,
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		slog.Error("audit log write failed", "owner_id", ownerID, "tool", req.Tool, "error", err)
	}
}

// pathParams extracts filesystem-path parameters from an opaque tool input.
// Recognized keys cover the file tools the backend exposes.
var pathKeys = []string{"path", "file_path", "directory", "target", "destination"}

func pathParams(input json.RawMessage) []string {
	var params map[string]any
	if err := json.Unmarshal(input, &params); err != nil {
		return nil
	}
	var paths []string
	for _, key := range pathKeys {
		if v, ok := params[key].(string); ok && v != "" {
			paths = append(paths, v)
		}
	}
	return paths
}

// shellTools is the closed set of shell-executing tool names subject to the
// command boundary check.
var shellTools = map[string]bool{
	"bash":  true,
	"shell": true,
	"exec":  true,
}

func shellCommand(tool string, input json.RawMessage) (string, bool) {
	if !shellTools[tool] {
		return "", false
	}
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", false
	}
	return params.Command, params.Command != ""
}
