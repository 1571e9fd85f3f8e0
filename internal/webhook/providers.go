package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/user/agentgate/internal/types"
)

// GitHub verifies deliveries signed with a shared HMAC-SHA256 secret the
// way GitHub webhooks sign them, and uses the delivery GUID as the
// deduplication key.
type GitHub struct {
	Secret []byte
	// Owner and ContextKey map every delivery onto one agent session.
	Owner      string
	ContextKey string
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) Verify(r *http.Request, body []byte) (*Delivery, error) {
	sig := strings.TrimPrefix(r.Header.Get("X-Hub-Signature-256"), "sha256=")
	if sig == "" {
		return nil, types.E(types.KindAuthFailure, "missing X-Hub-Signature-256")
	}
	given, err := hex.DecodeString(sig)
	if err != nil {
		return nil, types.WrapE(types.KindAuthFailure, err, "malformed signature")
	}
	mac := hmac.New(sha256.New, g.Secret)
	mac.Write(body)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return nil, types.E(types.KindAuthFailure, "signature mismatch")
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		return nil, fmt.Errorf("missing X-GitHub-Delivery header")
	}
	event := r.Header.Get("X-GitHub-Event")

	meta, _ := json.Marshal(map[string]string{"github_event": event})
	return &Delivery{
		EventID:    deliveryID,
		OwnerID:    g.Owner,
		ContextKey: g.ContextKey,
		Payload:    fmt.Sprintf("GitHub %s event received:\n%s", event, body),
		Metadata:   meta,
	}, nil
}

// Generic accepts deliveries from internal services authenticated by a
// bearer token. The body names the event, owner, and context directly.
type Generic struct {
	Token []byte
	// DefaultOwner and DefaultContext apply when the body omits them.
	DefaultOwner   string
	DefaultContext string
}

func (g *Generic) Name() string { return "generic" }

type genericBody struct {
	EventID    string `json:"event_id"`
	OwnerID    string `json:"owner_id"`
	ContextKey string `json:"context_key"`
	Prompt     string `json:"prompt"`
}

func (g *Generic) Verify(r *http.Request, body []byte) (*Delivery, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), g.Token) != 1 {
		return nil, types.E(types.KindAuthFailure, "bad bearer token")
	}

	var b genericBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if b.EventID == "" || b.Prompt == "" {
		return nil, fmt.Errorf("event_id and prompt are required")
	}

	owner := b.OwnerID
	if owner == "" {
		owner = g.DefaultOwner
	}
	contextKey := b.ContextKey
	if contextKey == "" {
		contextKey = g.DefaultContext
	}
	if owner == "" || contextKey == "" {
		return nil, fmt.Errorf("owner_id and context_key unresolved")
	}

	return &Delivery{
		EventID:    b.EventID,
		OwnerID:    owner,
		ContextKey: contextKey,
		Payload:    b.Prompt,
	}, nil
}
