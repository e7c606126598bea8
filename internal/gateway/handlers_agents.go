package gateway

import (
	"net/http"
	"time"

	"github.com/example/orchestrator/internal/kip"
)

type agentResponse struct {
	AgentID       string `json:"agent_id"`
	Function      string `json:"function"`
	Status        string `json:"status"`
	MaxConcurrent int    `json:"max_concurrent"`
	Priority      int    `json:"priority"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// handleAgents implements GET /api/agents, the admin-facing listing of
// registered agent genomes. The surface is read-only: agents are
// provisioned at startup (the orchestrator's own system agent) or by
// operator tooling writing through the agent store directly, not over
// HTTP.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "agent store not ready")
		return
	}
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	genomes, err := s.agents.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not list agents")
		return
	}
	out := make([]agentResponse, 0, len(genomes))
	for _, g := range genomes {
		out = append(out, toAgentResponse(g))
	}
	writeJSON(w, map[string]any{"agents": out})
}

func toAgentResponse(g kip.AgentGenome) agentResponse {
	return agentResponse{
		AgentID:       g.AgentID,
		Function:      string(g.Function),
		Status:        string(g.Status),
		MaxConcurrent: g.MaxConcurrent,
		Priority:      g.Priority,
		CreatedAt:     g.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     g.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
