// Package router maps logical model aliases to concrete inference backends.
// It resolves an alias to a configured (provider, model, host, port) tuple,
// dispatches Generate/HealthCheck calls to the right backend client, and
// normalizes failures into the three kinds the orchestrator cares about:
// BackendError, BackendUnavailable, BackendTimeout.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/orchestrator/internal/config"
	"github.com/example/orchestrator/internal/metrics"
	"github.com/example/orchestrator/internal/router/providers"
)

// ErrKind classifies a router-level failure for the orchestrator's
// phase-outcome bookkeeping.
type ErrKind string

const (
	BackendError       ErrKind = "backend_error"
	BackendUnavailable ErrKind = "backend_unavailable"
	BackendTimeout     ErrKind = "backend_timeout"
)

// Error is returned by Generate/HealthCheck for any backend failure.
type Error struct {
	Kind  ErrKind
	Alias string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("router: %s alias=%s: %v", e.Kind, e.Alias, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func classify(cause error) ErrKind {
	if errors.Is(cause, context.DeadlineExceeded) {
		return BackendTimeout
	}
	if pe, ok := providers.GetProviderError(cause); ok {
		switch pe.Reason {
		case providers.FailoverTimeout:
			return BackendTimeout
		case providers.FailoverModelUnavailable, providers.FailoverBilling, providers.FailoverAuth:
			return BackendUnavailable
		default:
			return BackendError
		}
	}
	return BackendError
}

// Router resolves aliases to backend clients and dispatches calls.
type Router struct {
	models  map[string]config.ModelDescriptor
	clients map[string]providers.LLMProvider // keyed by provider name
	metrics *metrics.Metrics
	timeout time.Duration
}

// New builds a Router from the configured model table and a set of
// already-constructed backend clients, one per provider name ("local",
// "anthropic", "openai", "google", "bedrock").
func New(cfg config.LLMConfig, clients map[string]providers.LLMProvider, m *metrics.Metrics) *Router {
	models := make(map[string]config.ModelDescriptor, len(cfg.Models))
	for _, md := range cfg.Models {
		models[md.Alias] = md
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Router{models: models, clients: clients, metrics: m, timeout: timeout}
}

// Resolve returns the model descriptor behind an alias.
func (r *Router) Resolve(alias string) (config.ModelDescriptor, bool) {
	md, ok := r.models[alias]
	return md, ok
}

// Generate dispatches a completion request to the backend behind alias,
// filling in option defaults for anything the caller left zero-valued.
func (r *Router) Generate(ctx context.Context, alias, prompt string, opts providers.GenerateOptions) (providers.GenerateResult, error) {
	md, ok := r.models[alias]
	if !ok {
		return providers.GenerateResult{}, &Error{Kind: BackendUnavailable, Alias: alias, Cause: fmt.Errorf("unknown model alias")}
	}
	client, ok := r.clients[md.Provider]
	if !ok {
		return providers.GenerateResult{}, &Error{Kind: BackendUnavailable, Alias: alias, Cause: fmt.Errorf("no client configured for provider %q", md.Provider)}
	}

	opts = applyDefaults(opts)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := timeNow()
	result, err := client.Generate(ctx, md.ModelID(), prompt, opts)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if r.metrics != nil {
		r.metrics.BackendRequestCounter.WithLabelValues(md.Provider, alias, outcome).Inc()
		r.metrics.CouncilCallDuration.WithLabelValues(alias, outcome).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return providers.GenerateResult{}, &Error{Kind: classify(err), Alias: alias, Cause: err}
	}
	return result, nil
}

// HealthCheck probes a single alias with a 5-second deadline. Results are
// advisory and not cached here; callers cache if they need to.
func (r *Router) HealthCheck(ctx context.Context, alias string) error {
	md, ok := r.models[alias]
	if !ok {
		return &Error{Kind: BackendUnavailable, Alias: alias, Cause: fmt.Errorf("unknown model alias")}
	}
	client, ok := r.clients[md.Provider]
	if !ok {
		return &Error{Kind: BackendUnavailable, Alias: alias, Cause: fmt.Errorf("no client configured for provider %q", md.Provider)}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx, md.ModelID()); err != nil {
		return &Error{Kind: classify(err), Alias: alias, Cause: err}
	}
	return nil
}

// Aliases returns every configured alias, for /health and analytics
// endpoints that want to enumerate known models.
func (r *Router) Aliases() []string {
	aliases := make([]string, 0, len(r.models))
	for alias := range r.models {
		aliases = append(aliases, alias)
	}
	return aliases
}

func applyDefaults(opts providers.GenerateOptions) providers.GenerateOptions {
	d := providers.DefaultGenerateOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = d.MaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = d.Temperature
	}
	if opts.TopP == 0 {
		opts.TopP = d.TopP
	}
	if opts.TopK == 0 {
		opts.TopK = d.TopK
	}
	return opts
}

// timeNow is a seam so tests can avoid real wall-clock dependence without
// reaching for a mocking library the corpus never uses elsewhere.
var timeNow = time.Now
