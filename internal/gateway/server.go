// Package gateway is the single public entry point: it fronts the
// orchestrator, voice pipeline, treasury, and KIP agent registry with REST
// endpoints, two WebSocket streams, rate limiting, request validation, and
// security headers.
//
// One http.ServeMux carries the whole route table, with promhttp.Handler
// mounted at /metrics and graceful Shutdown on a captured
// *http.Server/net.Listener pair. Each WebSocket connection gets a
// read-loop/write-loop goroutine pair with JSON frame dispatch.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/orchestrator/internal/auth"
	"github.com/example/orchestrator/internal/config"
	"github.com/example/orchestrator/internal/edgeguard"
	"github.com/example/orchestrator/internal/kip"
	"github.com/example/orchestrator/internal/kv"
	"github.com/example/orchestrator/internal/metrics"
	"github.com/example/orchestrator/internal/orchestrator"
	"github.com/example/orchestrator/internal/ratelimit"
	"github.com/example/orchestrator/internal/router"
	"github.com/example/orchestrator/internal/tracing"
	"github.com/example/orchestrator/internal/treasury"
	"github.com/example/orchestrator/internal/voicepipeline"
)

// Server is the process-wide HTTP/WebSocket surface. Construct once at
// startup via New and call Start/Shutdown around the process lifetime.
type Server struct {
	cfg *config.Config

	orchestrator *orchestrator.Orchestrator
	voice        *voicepipeline.Pipeline
	voiceClient  *voicepipeline.Client
	treasury     *treasury.Treasury
	agents       *kip.AgentStore
	limiter      *ratelimit.Limiter
	router       *router.Router
	kv           *kv.Store
	metrics      *metrics.Metrics
	logger       *slog.Logger
	tracer       *tracing.Tracer
	auth         *auth.JWTService

	security   edgeguard.SecurityConfig
	validation edgeguard.ValidationConfig

	audioDir  string
	startTime time.Time
	inFlight  chan struct{}

	httpServer   *http.Server
	httpListener net.Listener
}

// Dependencies bundles every collaborator the surface dispatches to.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Voice        *voicepipeline.Pipeline
	VoiceClient  *voicepipeline.Client
	Treasury     *treasury.Treasury
	Agents       *kip.AgentStore
	Limiter      *ratelimit.Limiter
	Router       *router.Router
	KV           *kv.Store
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Tracer       *tracing.Tracer
	Auth         *auth.JWTService
	AudioDir     string
}

// New builds a Server. audioDir is where TTS output files are written and
// where GET /api/voice/audio/{filename} serves from.
func New(cfg *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := cfg.Server.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 256
	}
	security := edgeguard.DefaultSecurityConfig()
	if cfg.Environment == config.EnvProduction {
		security = edgeguard.ProductionSecurityConfig(cfg.CORS.AllowedOrigins)
	}
	audioDir := deps.AudioDir
	if audioDir == "" {
		audioDir = "./voice-audio"
	}
	return &Server{
		cfg:          cfg,
		orchestrator: deps.Orchestrator,
		voice:        deps.Voice,
		voiceClient:  deps.VoiceClient,
		treasury:     deps.Treasury,
		agents:       deps.Agents,
		limiter:      deps.Limiter,
		router:       deps.Router,
		kv:           deps.KV,
		metrics:      deps.Metrics,
		logger:       logger,
		tracer:       deps.Tracer,
		auth:         deps.Auth,
		security:     security,
		validation:   validationFromConfig(cfg.Validation),
		audioDir:     audioDir,
		startTime:    time.Now(),
		inFlight:     make(chan struct{}, maxConcurrent),
	}
}

// Mux builds the http.Handler tree. Exposed separately from Start so tests
// can exercise it with httptest without binding a real listener.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	mux.Handle("/api/chat", s.apiChain(http.HandlerFunc(s.handleChat)))
	mux.Handle("/api/voice/chat", s.apiChain(http.HandlerFunc(s.handleVoiceChat)))
	mux.Handle("/api/voice/audio/", s.apiChain(http.HandlerFunc(s.handleVoiceAudio)))
	mux.Handle("/api/voice/voices", s.apiChain(http.HandlerFunc(s.handleVoiceVoices)))
	mux.Handle("/api/agents", s.apiChain(s.withAdminAuth(http.HandlerFunc(s.handleAgents))))
	mux.Handle("/api/analytics/economic", s.apiChain(s.withAdminAuth(http.HandlerFunc(s.handleEconomicAnalytics))))

	mux.Handle("/ws/chat", s.wsUpgradeGuard(http.HandlerFunc(s.handleWSChat)))
	mux.Handle("/ws/voice", s.wsUpgradeGuard(http.HandlerFunc(s.handleWSVoice)))

	return edgeguard.SecurityHeaders(s.security)(mux)
}

// validationFromConfig overlays the loaded validation tunables onto
// edgeguard's defaults; zero values keep the default.
func validationFromConfig(v config.ValidationConfig) edgeguard.ValidationConfig {
	out := edgeguard.DefaultValidationConfig()
	if v.MaxRequestSizeBytes > 0 {
		out.MaxRequestSizeBytes = v.MaxRequestSizeBytes
	}
	if v.MaxJSONSizeBytes > 0 {
		out.MaxJSONSizeBytes = v.MaxJSONSizeBytes
	}
	if v.MaxQueryParams > 0 {
		out.MaxQueryParams = v.MaxQueryParams
	}
	if v.MaxHeaders > 0 {
		out.MaxHeaders = v.MaxHeaders
	}
	if v.MaxHeaderSizeBytes > 0 {
		out.MaxHeaderSizeBytes = v.MaxHeaderSizeBytes
	}
	if len(v.BlockedUserAgents) > 0 {
		out.BlockedUserAgents = v.BlockedUserAgents
	}
	return out
}

// apiChain wraps an API handler so that a request passes the backpressure
// semaphore, per-request logging, rate limiting, and request validation,
// in that order, before reaching next.
func (s *Server) apiChain(next http.Handler) http.Handler {
	validated := edgeguard.Validate(s.validation, s.metrics)(next)
	limited := s.withRateLimit(validated)
	return s.withBackpressure(s.withRequestLog(limited))
}

func (s *Server) withBackpressure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.inFlight <- struct{}{}:
			defer func() { <-s.inFlight }()
		default:
			writeJSONError(w, http.StatusServiceUnavailable, "server saturated, try again")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ratelimit.ClientIP(r)
		if ratelimit.IsLoopback(ip) {
			next.ServeHTTP(w, r)
			return
		}
		result := s.limiter.Check(r.Context(), ip, r.URL.Path)
		ratelimit.ApplyHeaders(w, result)
		if !result.Allowed {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAdminAuth requires a valid bearer token on the admin surface. With
// no secret configured (development default) the check is skipped; in
// production config.Load refuses to start without one.
func (s *Server) withAdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := auth.FromAuthorizationHeader(r.Header.Get("Authorization"))
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if _, err := s.auth.Validate(token); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer.StartHTTPRequest(r.Context(), r.Method, r.URL.Path)
		defer span.End()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		if s.metrics != nil {
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status)).Observe(time.Since(start).Seconds())
		}
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start binds the listener and begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Shutdown drains the listener and waits (bounded by ctx) for in-flight
// requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	writeJSON(w, map[string]any{"error": message})
}
