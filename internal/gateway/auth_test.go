package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/orchestrator/internal/auth"
)

func TestWithAdminAuth_DisabledPassesThrough(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	handler := s.withAdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 when auth disabled", rr.Code)
	}
}

func TestWithAdminAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	s := newTestServer(t, Dependencies{Auth: auth.NewJWTService("test-secret", time.Hour)})
	handler := s.withAdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
		})
	}
}

func TestWithAdminAuth_AcceptsValidToken(t *testing.T) {
	svc := auth.NewJWTService("test-secret", time.Hour)
	s := newTestServer(t, Dependencies{Auth: svc})
	handler := s.withAdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := svc.Generate(auth.Principal{Subject: "admin"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for valid token", rr.Code)
	}
}
