package edgeguard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestValidate_RejectsSQLInjectionInQuery(t *testing.T) {
	h := Validate(DefaultValidationConfig(), nil)(newTestHandler())
	r := httptest.NewRequest(http.MethodGet, "/api/chat?q=1%20UNION%20SELECT%20*%20FROM%20users", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Request validation failed") {
		t.Fatalf("expected generic rejection body, got %q", w.Body.String())
	}
}

func TestValidate_RejectsXSSInJSONBody(t *testing.T) {
	h := Validate(DefaultValidationConfig(), nil)(newTestHandler())
	body := `{"message":"<script>alert(1)</script>"}`
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestValidate_AllowsCleanJSONBody(t *testing.T) {
	h := Validate(DefaultValidationConfig(), nil)(newTestHandler())
	body := `{"message":"hello there"}`
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestValidate_RejectsBlockedUserAgent(t *testing.T) {
	h := Validate(DefaultValidationConfig(), nil)(newTestHandler())
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("User-Agent", "evil-scraper/1.0")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestValidate_RejectsUnsupportedContentType(t *testing.T) {
	h := Validate(DefaultValidationConfig(), nil)(newTestHandler())
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("x"))
	r.Header.Set("Content-Type", "application/x-shockwave-flash")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestValidate_RejectsTooManyQueryParams(t *testing.T) {
	cfg := DefaultValidationConfig()
	cfg.MaxQueryParams = 1
	h := Validate(cfg, nil)(newTestHandler())
	r := httptest.NewRequest(http.MethodGet, "/health?a=1&b=2", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMatchedFamily(t *testing.T) {
	cases := map[string]string{
		"' OR 1=1":                  "sql",
		"<script>alert(1)</script>": "xss",
		"../../etc/passwd":          "path_traversal",
		"; rm -rf /":                "command",
		"a perfectly normal value":  "",
	}
	for input, want := range cases {
		if got := matchedFamily(input); got != want {
			t.Fatalf("matchedFamily(%q) = %q, want %q", input, got, want)
		}
	}
}
