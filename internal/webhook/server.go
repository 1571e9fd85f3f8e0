// Package webhook is the HTTP ingress: it verifies provider signatures,
// deduplicates deliveries, and publishes normalized trigger events.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/user/agentgate/internal/bus"
	"github.com/user/agentgate/internal/types"
)

const maxBodyBytes = 1 << 20

// Delivery is one verified, provider-normalized webhook delivery.
type Delivery struct {
	EventID    string
	OwnerID    string
	ContextKey string
	Payload    string
	Metadata   json.RawMessage
}

// Provider verifies and normalizes deliveries for one webhook source.
// Verify must authenticate the request before looking at the payload; an
// authentication failure carries the auth-failure error kind.
type Provider interface {
	Name() string
	Verify(r *http.Request, body []byte) (*Delivery, error)
}

// Server handles webhook ingress plus a small read-only sessions API.
type Server struct {
	providers map[string]Provider
	dedup     types.DedupStore
	sessions  types.SessionStore
	bus       *bus.Bus
	mux       *http.ServeMux
}

// NewServer creates a Server routing deliveries from the given providers
// onto the bus.
func NewServer(providers []Provider, dedup types.DedupStore, sessions types.SessionStore, b *bus.Bus) *Server {
	s := &Server{
		providers: make(map[string]Provider, len(providers)),
		dedup:     dedup,
		sessions:  sessions,
		bus:       b,
		mux:       http.NewServeMux(),
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhooks/{provider}", s.handleWebhook)
	s.mux.HandleFunc("GET /api/sessions", s.handleAPISessions)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWebhook runs the ingress sequence: verify, then dedup, then
// publish. A replayed delivery is a 2xx no-op so the provider stops
// retrying; only authentication failures earn a 4xx.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")
	provider, ok := s.providers[name]
	if !ok {
		http.Error(w, `{"error":"unknown provider"}`, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
		return
	}

	delivery, err := provider.Verify(r, body)
	if err != nil {
		if types.IsKind(err, types.KindAuthFailure) {
			slog.Warn("webhook auth failed", "provider", name, "error", err)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		http.Error(w, `{"error":"malformed delivery"}`, http.StatusBadRequest)
		return
	}

	source := "webhook:" + name
	if err := s.dedup.Insert(r.Context(), source, delivery.EventID); err != nil {
		if types.IsKind(err, types.KindDuplicateEvent) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"status": "duplicate"})
			return
		}
		slog.Error("dedup insert failed", "provider", name, "event_id", delivery.EventID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.bus.Publish(&types.TriggerEvent{
		EventID:    delivery.EventID,
		Source:     source,
		OwnerID:    delivery.OwnerID,
		ContextKey: delivery.ContextKey,
		Payload:    delivery.Payload,
		Metadata:   delivery.Metadata,
		At:         time.Now().UTC(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

type sessionResponse struct {
	OwnerID          string  `json:"owner_id"`
	ContextKey       string  `json:"context_key"`
	BackendSessionID string  `json:"backend_session_id,omitempty"`
	CreatedAt        string  `json:"created_at"`
	LastActiveAt     string  `json:"last_active_at"`
	TotalCost        float64 `json:"total_cost"`
	TurnCount        int64   `json:"turn_count"`
}

func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionResponse{
			OwnerID:          sess.OwnerID,
			ContextKey:       sess.ContextKey,
			BackendSessionID: sess.BackendSessionID,
			CreatedAt:        sess.CreatedAt.Format(time.RFC3339),
			LastActiveAt:     sess.LastActiveAt.Format(time.RFC3339),
			TotalCost:        sess.TotalCost,
			TurnCount:        sess.TurnCount,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActiveAt > result[j].LastActiveAt
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
