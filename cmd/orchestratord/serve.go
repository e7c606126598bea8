package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/orchestrator/internal/auth"
	"github.com/example/orchestrator/internal/config"
	"github.com/example/orchestrator/internal/gateway"
	"github.com/example/orchestrator/internal/graphstore"
	"github.com/example/orchestrator/internal/kip"
	"github.com/example/orchestrator/internal/kv"
	"github.com/example/orchestrator/internal/logging"
	"github.com/example/orchestrator/internal/metrics"
	"github.com/example/orchestrator/internal/orchestrator"
	"github.com/example/orchestrator/internal/ratelimit"
	"github.com/example/orchestrator/internal/router"
	"github.com/example/orchestrator/internal/router/providers"
	"github.com/example/orchestrator/internal/tracing"
	"github.com/example/orchestrator/internal/treasury"
	"github.com/example/orchestrator/internal/voicepipeline"
)

const shutdownGrace = 15 * time.Second

// systemAgentID is the KIP identity the orchestrator dispatches action-intent
// tool calls under (see orchestrator.New).
const systemAgentID = "orchestrator"

// runServe wires every component together and serves until ctx is cancelled
// by SIGINT/SIGTERM.
func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)
	logger.Info("starting orchestratord", "version", version, "environment", cfg.Environment)

	m := metrics.New()

	tracer, shutdownTracer := tracing.New(tracing.Config{
		ServiceName:  "orchestratord",
		Environment:  string(cfg.Environment),
		Endpoint:     cfg.Observability.OTLPEndpoint,
		SamplingRate: cfg.Observability.SamplingRate,
		Insecure:     cfg.Observability.Insecure,
	})

	// A failed Redis connection is not fatal: the rate limiter fails open
	// and the treasury reports per-call errors. Production operators will
	// see the warning.
	kvStore, err := kv.New(ctx, kv.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Warn("redis unavailable, continuing degraded", "error", err)
		kvStore = nil
	}

	graph := graphstore.New(fmt.Sprintf("http://%s:%d", cfg.GraphStore.Host, cfg.GraphStore.Port), 10*time.Second)

	modelRouter := router.New(cfg.LLM, buildProviderClients(ctx, cfg, logger), m)

	treasuryStore := treasury.New(cfg.Treasury, kvStore, m)

	registry := kip.NewRegistry()
	for _, tool := range kip.DefaultTools(nil) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	agentStore := kip.NewAgentStore(kvStore, graph)
	executor := kip.NewExecutor(registry, agentStore, treasuryStore, m)

	if kvStore != nil {
		if err := bootstrapSystemAgent(ctx, cfg, agentStore, treasuryStore); err != nil {
			logger.Warn("system agent bootstrap failed", "error", err)
		}
	}

	pheromind := orchestrator.NewPheromindStore(kvStore, cfg.PheromindTTL)
	orch := orchestrator.New(cfg, modelRouter, pheromind, executor, m, logger)
	orch.SetTracer(tracer)

	voiceClient, err := voicepipeline.NewClient(voicepipeline.ClientConfig{
		BaseURL: cfg.Voice.BaseURL,
		Timeout: cfg.Voice.RequestTimeout,
	})
	if err != nil {
		return err
	}
	voicePipe := voicepipeline.New(cfg, voiceClient, orch, m, logger)

	audioDir := "./voice-audio"
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio dir %s: %w", audioDir, err)
	}

	server := gateway.New(cfg, gateway.Dependencies{
		Orchestrator: orch,
		Voice:        voicePipe,
		VoiceClient:  voiceClient,
		Treasury:     treasuryStore,
		Agents:       agentStore,
		Limiter:      ratelimit.New(cfg.RateLimit, kvStore, m),
		Router:       modelRouter,
		KV:           kvStore,
		Metrics:      m,
		Logger:       logger,
		Tracer:       tracer,
		Auth:         auth.NewJWTService(cfg.Auth.AdminJWTSecret, cfg.Auth.TokenExpiry),
		AudioDir:     audioDir,
	})
	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", "error", err)
	}
	if err := kvStore.Close(); err != nil {
		logger.Error("kv close", "error", err)
	}
	return nil
}

// buildProviderClients constructs one backend client per provider named in
// the model table. Local-family providers (llamacpp, ollama, other) dial the
// first descriptor's host:port; SDK-backed providers take the descriptor's
// API key and carry the model name per call.
func buildProviderClients(ctx context.Context, cfg *config.Config, logger *slog.Logger) map[string]providers.LLMProvider {
	clients := make(map[string]providers.LLMProvider)
	for _, md := range cfg.LLM.Models {
		if _, done := clients[md.Provider]; done {
			continue
		}
		switch md.Provider {
		case "llamacpp", "ollama", "local", "other":
			clients[md.Provider] = providers.NewLocalProvider(providers.LocalConfig{
				Host:    md.Host,
				Port:    md.Port,
				Timeout: cfg.LLM.RequestTimeout,
			})
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: md.APIKey})
			if err != nil {
				logger.Warn("anthropic client unavailable", "error", err)
				continue
			}
			clients[md.Provider] = p
		case "openai":
			p, err := providers.NewOpenAIProvider(md.APIKey)
			if err != nil {
				logger.Warn("openai client unavailable", "error", err)
				continue
			}
			clients[md.Provider] = p
		case "google":
			p, err := providers.NewGoogleProvider(ctx, providers.GoogleConfig{APIKey: md.APIKey})
			if err != nil {
				logger.Warn("google client unavailable", "error", err)
				continue
			}
			clients[md.Provider] = p
		case "bedrock":
			p, err := providers.NewBedrockProvider(ctx, providers.BedrockConfig{})
			if err != nil {
				logger.Warn("bedrock client unavailable", "error", err)
				continue
			}
			clients[md.Provider] = p
		default:
			logger.Warn("unknown provider in model table", "provider", md.Provider, "alias", md.Alias)
		}
	}
	return clients
}

// bootstrapSystemAgent ensures the orchestrator's own KIP identity exists
// with a budget and full access to the built-in web tools, so action-intent
// requests can dispatch tool calls out of the box.
func bootstrapSystemAgent(ctx context.Context, cfg *config.Config, agents *kip.AgentStore, treasuryStore *treasury.Treasury) error {
	if _, found, err := agents.Get(ctx, systemAgentID); err != nil {
		return err
	} else if !found {
		now := time.Now()
		genome := kip.AgentGenome{
			AgentID:  systemAgentID,
			Function: kip.FunctionCoordinator,
			Status:   kip.StatusActive,
			AuthorizedTools: []kip.ToolCapability{
				{ToolType: "web", AuthLevel: kip.AuthFull, GrantedAt: now},
			},
			MaxConcurrent:  4,
			DefaultTimeout: 30 * time.Second,
			Priority:       10,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := agents.Put(ctx, genome); err != nil {
			return err
		}
	}

	_, err := treasuryStore.InitializeBudget(ctx, systemAgentID,
		cfg.Treasury.DefaultSeedCents,
		cfg.Treasury.DefaultDailyLimitCents,
		cfg.Treasury.DefaultActionLimitCents)
	if err != nil && !errors.Is(err, treasury.ErrAlreadyExists) {
		return err
	}
	return nil
}
