package edgeguard

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders_SkipsHSTSOnPlainHTTP(t *testing.T) {
	h := SecurityHeaders(DefaultSecurityConfig())(newTestHandler())
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("expected no HSTS header over plain HTTP")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected X-Frame-Options: DENY")
	}
}

func TestSecurityHeaders_SetsHSTSOverForwardedHTTPS(t *testing.T) {
	h := SecurityHeaders(DefaultSecurityConfig())(newTestHandler())
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS header over forwarded HTTPS")
	}
}

func TestSecurityHeaders_StripsFrameOptionsOnWebsocketPaths(t *testing.T) {
	h := SecurityHeaders(DefaultSecurityConfig())(newTestHandler())
	r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get("X-Frame-Options") != "" {
		t.Fatalf("expected X-Frame-Options stripped for /ws/ paths")
	}
}

func TestSecurityHeaders_AddsNoCacheOnAPIPaths(t *testing.T) {
	h := SecurityHeaders(DefaultSecurityConfig())(newTestHandler())
	r := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected Cache-Control header on /api/ paths")
	}
}

func TestSecurityHeaders_RemovesServerHeader(t *testing.T) {
	h := SecurityHeaders(DefaultSecurityConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx")
		w.WriteHeader(http.StatusOK)
	}))
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get("Server") != "" {
		t.Fatalf("expected Server header removed")
	}
}

func TestProductionSecurityConfig_HasNoUnsafeInlineScript(t *testing.T) {
	cfg := ProductionSecurityConfig([]string{"https://example.com"})
	if containsSubstring(cfg.CSPPolicy, "unsafe-eval") {
		t.Fatalf("expected production CSP to drop unsafe-eval, got %q", cfg.CSPPolicy)
	}
	if !containsSubstring(cfg.CSPPolicy, "script-src 'self';") {
		t.Fatalf("expected production script-src to allow 'self' only, got %q", cfg.CSPPolicy)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://example.com" {
		t.Fatalf("expected allowed origins to be set from argument")
	}
}

func containsSubstring(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
