// Package ratelimit provides Redis sliding-window admission per IP, per
// endpoint, and per request class (chat/voice), plus in-process WebSocket
// connection caps per IP.
//
// Every applicable limit must pass; the first rejection wins and the
// most-restrictive remaining quota is what gets reported on admission. A
// Redis error fails open (the request is admitted with a warning) — rate
// limiting is a DoS safeguard, and in degraded mode availability beats
// lockout.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/orchestrator/internal/config"
	"github.com/example/orchestrator/internal/kv"
	"github.com/example/orchestrator/internal/metrics"
)

// Limit describes one sliding window to check.
type Limit struct {
	Requests      int
	WindowSeconds int
	Scope         string
}

// Result is the outcome of checking every applicable limit for a request.
type Result struct {
	Allowed           bool
	RequestsMade      int
	RequestsRemaining int
	ResetUnix         int64
	RetryAfterSeconds int
}

// Limiter holds the default+endpoint limit tables and per-IP WebSocket
// connection counters.
type Limiter struct {
	store         *kv.Store
	metrics       *metrics.Metrics
	enabled       bool
	keyPrefix     string
	defaultLimits []Limit
	endpointLimits map[string][]Limit
	maxWSPerIP    int

	wsMu    sync.Mutex
	wsConns map[string]int
}

// New builds a Limiter from configuration. store may be nil; in that case
// every check fails open (allowed=true), same as when Redis goes away at
// runtime.
func New(cfg config.RateLimitConfig, store *kv.Store, m *metrics.Metrics) *Limiter {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "rate_limit"
	}
	maxWS := cfg.MaxWebSocketPerIP
	if maxWS <= 0 {
		maxWS = 5
	}
	return &Limiter{
		store:     store,
		metrics:   m,
		enabled:   cfg.Enabled,
		keyPrefix: prefix,
		defaultLimits: []Limit{
			{Requests: orDefault(cfg.IPPerMinute, 100), WindowSeconds: 60, Scope: "ip_per_minute"},
			{Requests: orDefault(cfg.IPPerHour, 1000), WindowSeconds: 3600, Scope: "ip_per_hour"},
			{Requests: orDefault(cfg.ChatPerMinute, 10), WindowSeconds: 60, Scope: "chat_per_minute"},
			{Requests: orDefault(cfg.VoicePerMinute, 5), WindowSeconds: 60, Scope: "voice_per_minute"},
		},
		endpointLimits: map[string][]Limit{
			"/api/chat":        {{Requests: 30, WindowSeconds: 60, Scope: "endpoint"}},
			"/api/voice/chat":  {{Requests: 5, WindowSeconds: 60, Scope: "endpoint"}},
			"/health":          {{Requests: 300, WindowSeconds: 60, Scope: "endpoint"}},
		},
		maxWSPerIP: maxWS,
		wsConns:    make(map[string]int),
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Check evaluates every applicable limit for a request and returns the
// aggregate Result: the first exceeded limit wins outright; otherwise the
// limit with the smallest remaining count is reported.
func (l *Limiter) Check(ctx context.Context, clientIP, path string) Result {
	if !l.enabled {
		return allowAll()
	}

	limits := append([]Limit{}, l.defaultLimits...)
	if endpointSpecific, ok := l.endpointLimits[path]; ok {
		limits = append(limits, endpointSpecific...)
	}
	if strings.Contains(path, "/chat") {
		limits = append(limits, Limit{Requests: 10, WindowSeconds: 60, Scope: "chat"})
	} else if strings.Contains(path, "/voice") {
		limits = append(limits, Limit{Requests: 5, WindowSeconds: 60, Scope: "voice"})
	}

	best := allowAll()
	for _, lim := range limits {
		result := l.checkSingle(ctx, clientIP, path, lim)
		if !result.Allowed {
			l.record("reject")
			return result
		}
		if result.RequestsRemaining < best.RequestsRemaining {
			best = result
		}
	}
	l.record("admit")
	return best
}

func (l *Limiter) record(decision string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues("http", decision).Inc()
	}
}

func (l *Limiter) checkSingle(ctx context.Context, clientIP, endpoint string, lim Limit) Result {
	keyParts := []string{l.keyPrefix, lim.Scope, clientIP}
	if lim.Scope == "endpoint" {
		keyParts = append(keyParts, strings.ReplaceAll(endpoint, "/", "_"))
	}
	key := strings.Join(keyParts, ":")

	now := time.Now()
	countBefore, err := l.store.SlidingWindowAdmit(ctx, key, lim.WindowSeconds, now)
	if err != nil {
		if l.metrics != nil {
			l.metrics.RateLimitDecisions.WithLabelValues("http", "fail_open").Inc()
		}
		return Result{
			Allowed:           true,
			RequestsMade:      0,
			RequestsRemaining: int64ToInt(int64(lim.Requests)),
			ResetUnix:         now.Unix() + int64(lim.WindowSeconds),
		}
	}

	allowed := countBefore < int64(lim.Requests)
	remaining := lim.Requests - int(countBefore) - 1
	if remaining < 0 {
		remaining = 0
	}
	result := Result{
		Allowed:           allowed,
		RequestsMade:      int(countBefore) + 1,
		RequestsRemaining: remaining,
		ResetUnix:         now.Unix() + int64(lim.WindowSeconds),
	}
	if !allowed {
		result.RetryAfterSeconds = lim.WindowSeconds
	}
	return result
}

func int64ToInt(v int64) int {
	if v > 1<<31-1 {
		return 1<<31 - 1
	}
	return int(v)
}

func allowAll() Result {
	return Result{Allowed: true, RequestsRemaining: 999999, ResetUnix: time.Now().Unix() + 3600}
}

// ClientIP extracts the client address: X-Forwarded-For first entry, then
// X-Real-IP, then the TCP peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// IsLoopback reports whether ip is a localhost address, used to bypass
// rate limiting for monitoring health checks.
func IsLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost"
}

// AcquireWebSocket admits a new WebSocket connection for clientIP if under
// the per-IP cap, returning false when the cap is exceeded.
func (l *Limiter) AcquireWebSocket(clientIP string) bool {
	l.wsMu.Lock()
	defer l.wsMu.Unlock()
	if l.wsConns[clientIP] >= l.maxWSPerIP {
		return false
	}
	l.wsConns[clientIP]++
	return true
}

// ReleaseWebSocket decrements the per-IP WebSocket connection counter.
func (l *Limiter) ReleaseWebSocket(clientIP string) {
	l.wsMu.Lock()
	defer l.wsMu.Unlock()
	if l.wsConns[clientIP] <= 1 {
		delete(l.wsConns, clientIP)
		return
	}
	l.wsConns[clientIP]--
}

// ApplyHeaders writes the X-RateLimit-* headers on every response, plus
// Retry-After on rejections.
func ApplyHeaders(w http.ResponseWriter, r Result) {
	limit := r.RequestsMade + r.RequestsRemaining
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(r.RequestsRemaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", r.ResetUnix))
	if r.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(r.RetryAfterSeconds))
	}
}
