package edgeguard

import (
	"net/http"
	"strconv"
	"strings"
)

// SecurityConfig controls the header set applied to every response.
type SecurityConfig struct {
	CSPPolicy                      string
	HSTSMaxAgeSeconds              int
	HSTSIncludeSubdomains          bool
	HSTSPreload                    bool
	ReferrerPolicy                 string
	PermissionsPolicy              string
	AllowedOrigins                 []string
	AllowedMethods                 []string
	AllowedHeaders                 []string
	AllowCredentials               bool
	EnableXSSProtection            bool
	EnableContentTypeNosniff       bool
	EnableFrameOptions             bool
	EnableDownloadOptions          bool
	EnableCrossOriginEmbedderPolicy bool
}

// DefaultSecurityConfig returns the development defaults: a permissive CSP
// that tolerates local tooling.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		CSPPolicy: "default-src 'self'; " +
			"script-src 'self' 'unsafe-inline' 'unsafe-eval'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data: https:; " +
			"font-src 'self' data:; " +
			"connect-src 'self' ws: wss:; " +
			"frame-src 'none'; " +
			"object-src 'none'; " +
			"base-uri 'self'",
		HSTSMaxAgeSeconds:     31536000,
		HSTSIncludeSubdomains: true,
		HSTSPreload:           true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy: "camera=(), microphone=(), geolocation=(), " +
			"payment=(), usb=(), magnetometer=(), " +
			"gyroscope=(), accelerometer=()",
		EnableXSSProtection:              true,
		EnableContentTypeNosniff:         true,
		EnableFrameOptions:               true,
		EnableDownloadOptions:            true,
		EnableCrossOriginEmbedderPolicy:  true,
	}
}

// ProductionSecurityConfig returns the production preset: a stricter CSP
// with no unsafe-inline/unsafe-eval, a two-year HSTS max-age, and CORS
// taken from allowedOrigins — callers must set it explicitly, it never
// defaults to "*".
func ProductionSecurityConfig(allowedOrigins []string) SecurityConfig {
	cfg := DefaultSecurityConfig()
	cfg.CSPPolicy = "default-src 'self'; " +
		"script-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data:; " +
		"font-src 'self'; " +
		"connect-src 'self' wss:; " +
		"frame-src 'none'; " +
		"object-src 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"
	cfg.AllowedOrigins = allowedOrigins
	cfg.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowedHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	cfg.AllowCredentials = false
	cfg.HSTSMaxAgeSeconds = 63072000
	return cfg
}

// UpdateCORSForProduction mutates cfg's CORS fields, mirroring
// SecurityHeadersMiddleware.update_cors_for_production.
func UpdateCORSForProduction(cfg *SecurityConfig, allowedOrigins, allowedMethods, allowedHeaders []string, allowCredentials bool) {
	cfg.AllowedOrigins = allowedOrigins
	if len(allowedMethods) == 0 {
		allowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(allowedHeaders) == 0 {
		allowedHeaders = []string{"*"}
	}
	cfg.AllowedMethods = allowedMethods
	cfg.AllowedHeaders = allowedHeaders
	cfg.AllowCredentials = allowCredentials
}

func securityHeaders(cfg SecurityConfig) map[string]string {
	headers := map[string]string{}
	if cfg.CSPPolicy != "" {
		headers["Content-Security-Policy"] = cfg.CSPPolicy
	}
	if cfg.HSTSMaxAgeSeconds > 0 {
		v := "max-age=" + strconv.Itoa(cfg.HSTSMaxAgeSeconds)
		if cfg.HSTSIncludeSubdomains {
			v += "; includeSubDomains"
		}
		if cfg.HSTSPreload {
			v += "; preload"
		}
		headers["Strict-Transport-Security"] = v
	}
	if cfg.EnableFrameOptions {
		headers["X-Frame-Options"] = "DENY"
	}
	if cfg.EnableContentTypeNosniff {
		headers["X-Content-Type-Options"] = "nosniff"
	}
	if cfg.EnableXSSProtection {
		headers["X-XSS-Protection"] = "1; mode=block"
	}
	if cfg.ReferrerPolicy != "" {
		headers["Referrer-Policy"] = cfg.ReferrerPolicy
	}
	if cfg.PermissionsPolicy != "" {
		headers["Permissions-Policy"] = cfg.PermissionsPolicy
	}
	if cfg.EnableDownloadOptions {
		headers["X-Download-Options"] = "noopen"
	}
	if cfg.EnableCrossOriginEmbedderPolicy {
		headers["Cross-Origin-Embedder-Policy"] = "require-corp"
	}
	headers["Cross-Origin-Opener-Policy"] = "same-origin"
	headers["Cross-Origin-Resource-Policy"] = "same-origin"
	return headers
}

// SecurityHeaders wraps next, adding the configured security headers to
// every response and removing server-identifying headers. HSTS is only
// emitted for HTTPS requests; /api/ responses get no-cache headers; /ws/
// responses have X-Frame-Options stripped.
func SecurityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	headers := securityHeaders(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			isHTTPS := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
			for name, value := range headers {
				if name == "Strict-Transport-Security" && !isHTTPS {
					continue
				}
				w.Header().Set(name, value)
			}

			if strings.HasPrefix(r.URL.Path, "/api/") {
				w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
				w.Header().Set("Pragma", "no-cache")
				w.Header().Set("Expires", "0")
			}
			if strings.HasPrefix(r.URL.Path, "/ws/") {
				w.Header().Del("X-Frame-Options")
			}

			w.Header().Set("X-AI-Council-Version", "1.0.0")
			w.Header().Set("X-Powered-By", "orchestrator")
			w.Header().Del("Server")
			w.Header().Del("X-Fastapi-Version")

			next.ServeHTTP(w, r)
		})
	}
}
