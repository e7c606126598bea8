package gateway

import (
	"net/http"
	"time"
)

type serviceHealth struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	CheckedAt string `json:"checked_at"`
}

type healthResponse struct {
	Status        string                   `json:"status"`
	Timestamp     string                   `json:"timestamp"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Services      map[string]serviceHealth `json:"services"`
}

// handleHealth implements GET /health: any core service error degrades the
// aggregate, an uninitialized orchestrator makes it unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	services := map[string]serviceHealth{}
	anyError := false

	services["orchestrator"] = checkHealth(s.orchestrator != nil, "orchestrator not initialized", now)

	if s.kv != nil {
		err := s.kv.Ping(r.Context())
		services["kv"] = checkHealth(err == nil, errMessage(err), now)
		anyError = anyError || err != nil
	}

	if s.router != nil {
		for _, alias := range s.router.Aliases() {
			err := s.router.HealthCheck(r.Context(), alias)
			services["backend:"+alias] = checkHealth(err == nil, errMessage(err), now)
			anyError = anyError || err != nil
		}
	}

	if s.voiceClient != nil {
		err := s.voiceClient.HealthCheck(r.Context())
		services["voice_service"] = checkHealth(err == nil, errMessage(err), now)
		anyError = anyError || err != nil
	}

	status := "healthy"
	switch {
	case s.orchestrator == nil:
		status = "unhealthy"
	case anyError:
		status = "degraded"
	}

	writeJSON(w, healthResponse{
		Status:        status,
		Timestamp:     now.UTC().Format(time.RFC3339),
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Services:      services,
	})
}

func checkHealth(ok bool, message string, at time.Time) serviceHealth {
	status := "healthy"
	if !ok {
		status = "unhealthy"
	}
	return serviceHealth{Status: status, Message: message, CheckedAt: at.UTC().Format(time.RFC3339)}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
