// Package edgeguard implements the request-validation and security-header
// middleware. Validation rejects the same way regardless of which pattern
// family matched, so a probing caller can never learn which check tripped,
// only that the request was rejected; the family is recorded internally as
// a metric label.
package edgeguard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/example/orchestrator/internal/metrics"
)

// ValidationConfig carries the size/shape limits the validator enforces.
type ValidationConfig struct {
	MaxRequestSizeBytes int64
	MaxJSONSizeBytes    int64
	MaxQueryParams      int
	MaxHeaders          int
	MaxHeaderSizeBytes  int
	AllowedContentTypes map[string]struct{}
	BlockedUserAgents   []string
}

// DefaultValidationConfig returns the stock limits: 10 MiB requests, 1 MiB
// JSON bodies, 50 query params, 100 headers of 8 KiB each.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxRequestSizeBytes: 10 * 1024 * 1024,
		MaxJSONSizeBytes:    1 * 1024 * 1024,
		MaxQueryParams:      50,
		MaxHeaders:          100,
		MaxHeaderSizeBytes:  8192,
		AllowedContentTypes: map[string]struct{}{
			"application/json":                  {},
			"application/x-www-form-urlencoded": {},
			"multipart/form-data":                {},
			"text/plain":                         {},
			"audio/wav":                          {},
			"audio/mpeg":                         {},
			"audio/mp4":                          {},
		},
		BlockedUserAgents: []string{"bot", "crawler", "spider", "scraper", "scanner"},
	}
}

var (
	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunion\b.*\bselect\b`),
		regexp.MustCompile(`(?i)\bdrop\b.*\btable\b`),
		regexp.MustCompile(`(?i)\binsert\b.*\binto\b`),
		regexp.MustCompile(`(?i)\bdelete\b.*\bfrom\b`),
		regexp.MustCompile(`(?i)\bupdate\b.*\bset\b`),
		regexp.MustCompile(`(?i)\bselect\b.*\bfrom\b`),
		regexp.MustCompile(`(?i)\bor\b.*\b1\s*=\s*1\b`),
		regexp.MustCompile(`(?i)\band\b.*\b1\s*=\s*1\b`),
		regexp.MustCompile(`(?i)'.*\bor\b.*'`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`(?s)/\*.*\*/`),
	}
	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)<iframe[^>]*>`),
		regexp.MustCompile(`(?i)<object[^>]*>`),
		regexp.MustCompile(`(?i)<embed[^>]*>`),
		regexp.MustCompile(`(?i)<link[^>]*>`),
		regexp.MustCompile(`(?i)<meta[^>]*>`),
	}
	pathTraversalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\.\./`),
		regexp.MustCompile(`(?i)\.\.\\`),
		regexp.MustCompile(`(?i)%2e%2e%2f`),
		regexp.MustCompile(`(?i)%2e%2e%5c`),
		regexp.MustCompile(`(?i)\.\.%2f`),
		regexp.MustCompile(`(?i)\.\.%5c`),
	}
	commandPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[;&|` + "`" + `]`),
		regexp.MustCompile(`\$\([^)]*\)`),
		regexp.MustCompile("`[^`]*`"),
		regexp.MustCompile(`(?i)\|\s*(cat|ls|pwd|whoami|id|uname)`),
	}
)

// rejectedMessage is the single generic message returned for every validation
// failure, regardless of cause — the shape check, the pattern family, and
// the reason never leak to the caller.
const rejectedMessage = `{"error":"Request validation failed"}`

// Validate wraps next with the full check sequence. A pattern rejection
// always returns HTTP 400 with the same body; size/content-type/user-agent
// failures keep their own distinct status codes (413/415/403).
func Validate(cfg ValidationConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := validateRequestSize(r, cfg); err != nil {
				writeRejection(w, m, "shape", http.StatusRequestEntityTooLarge)
				return
			}
			if err := validateHeaders(r, cfg); err != nil {
				writeRejection(w, m, "shape", http.StatusBadRequest)
				return
			}
			if err := validateContentType(r, cfg); err != nil {
				writeRejection(w, m, "shape", http.StatusUnsupportedMediaType)
				return
			}
			if err := validateUserAgent(r, cfg); err != nil {
				writeRejection(w, m, "shape", http.StatusForbidden)
				return
			}
			if family, err := validateQueryParams(r, cfg); err != nil {
				writeRejection(w, m, family, http.StatusBadRequest)
				return
			}

			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				family, status, body, err := validateAndBufferBody(r, cfg)
				if err != nil {
					writeRejection(w, m, family, status)
					return
				}
				r.Body = io.NopCloser(strings.NewReader(string(body)))
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRejection(w http.ResponseWriter, m *metrics.Metrics, family string, status int) {
	if m != nil {
		m.ValidationRejections.WithLabelValues(family).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(rejectedMessage))
}

func validateRequestSize(r *http.Request, cfg ValidationConfig) error {
	if r.ContentLength > 0 && r.ContentLength > cfg.MaxRequestSizeBytes {
		return fmt.Errorf("request entity too large")
	}
	return nil
}

func validateHeaders(r *http.Request, cfg ValidationConfig) error {
	if len(r.Header) > cfg.MaxHeaders {
		return fmt.Errorf("too many headers")
	}
	for name, values := range r.Header {
		for _, v := range values {
			if len(name)+len(v) > cfg.MaxHeaderSizeBytes {
				return fmt.Errorf("header too large: %s", name)
			}
		}
	}
	return nil
}

func validateContentType(r *http.Request, cfg ValidationConfig) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return nil
	}
	base := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	if _, ok := cfg.AllowedContentTypes[base]; !ok {
		return fmt.Errorf("unsupported media type: %s", base)
	}
	return nil
}

func validateUserAgent(r *http.Request, cfg ValidationConfig) error {
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, blocked := range cfg.BlockedUserAgents {
		if strings.Contains(ua, blocked) {
			return fmt.Errorf("blocked user agent")
		}
	}
	return nil
}

func validateQueryParams(r *http.Request, cfg ValidationConfig) (string, error) {
	values := r.URL.Query()
	if len(values) > cfg.MaxQueryParams {
		return "shape", fmt.Errorf("too many query parameters")
	}
	for key, vals := range values {
		for _, v := range vals {
			decoded, _ := url.QueryUnescape(v)
			if family := matchedFamily(decoded); family != "" {
				return family, fmt.Errorf("invalid query param %s", key)
			}
		}
	}
	return "", nil
}

func validateAndBufferBody(r *http.Request, cfg ValidationConfig) (family string, status int, body []byte, err error) {
	body, err = io.ReadAll(io.LimitReader(r.Body, cfg.MaxRequestSizeBytes+1))
	if err != nil {
		return "shape", http.StatusBadRequest, nil, err
	}
	ct := r.Header.Get("Content-Type")

	switch {
	case strings.Contains(ct, "application/json"):
		if int64(len(body)) > cfg.MaxJSONSizeBytes {
			return "shape", http.StatusRequestEntityTooLarge, nil, fmt.Errorf("json payload too large")
		}
		if len(body) == 0 {
			return "", 0, body, nil
		}
		var data any
		if jsonErr := json.Unmarshal(body, &data); jsonErr != nil {
			return "shape", http.StatusBadRequest, nil, jsonErr
		}
		if family := validateJSONContent(data); family != "" {
			return family, http.StatusBadRequest, nil, fmt.Errorf("invalid input detected")
		}
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		form, parseErr := url.ParseQuery(string(body))
		if parseErr != nil {
			return "shape", http.StatusBadRequest, nil, parseErr
		}
		for _, vals := range form {
			for _, v := range vals {
				if family := matchedFamily(v); family != "" {
					return family, http.StatusBadRequest, nil, fmt.Errorf("invalid input detected")
				}
			}
		}
	}
	return "", 0, body, nil
}

func validateJSONContent(data any) string {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			if family := matchedFamily(key); family != "" {
				return family
			}
			switch vv := val.(type) {
			case string:
				if family := matchedFamily(vv); family != "" {
					return family
				}
			case map[string]any, []any:
				if family := validateJSONContent(vv); family != "" {
					return family
				}
			}
		}
	case []any:
		for _, item := range v {
			switch vv := item.(type) {
			case string:
				if family := matchedFamily(vv); family != "" {
					return family
				}
			case map[string]any, []any:
				if family := validateJSONContent(vv); family != "" {
					return family
				}
			}
		}
	}
	return ""
}

// matchedFamily runs every pattern family against value and returns the
// name of the first family that matches, or "" if none do.
func matchedFamily(value string) string {
	if value == "" {
		return ""
	}
	for _, p := range sqlPatterns {
		if p.MatchString(value) {
			return "sql"
		}
	}
	for _, p := range xssPatterns {
		if p.MatchString(value) {
			return "xss"
		}
	}
	for _, p := range pathTraversalPatterns {
		if p.MatchString(value) {
			return "path_traversal"
		}
	}
	for _, p := range commandPatterns {
		if p.MatchString(value) {
			return "command"
		}
	}
	return ""
}
