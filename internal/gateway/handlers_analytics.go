package gateway

import "net/http"

// handleEconomicAnalytics implements GET /api/analytics/economic, a direct
// read-model passthrough onto the treasury's own aggregate view.
func (s *Server) handleEconomicAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	if s.treasury == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "treasury not ready")
		return
	}
	analytics, err := s.treasury.GetEconomicAnalytics(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not compute analytics")
		return
	}
	writeJSON(w, analytics)
}
