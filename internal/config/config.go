// Package config loads the orchestrator's typed configuration from environment
// variables, validating it once at startup rather than scattering os.Getenv
// calls through the codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the deployment tier. Production enables stricter
// validation (no default credentials, explicit CORS allow-list).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is the root configuration value. It is built once by Load and passed
// by read-only reference through the application; nothing in this package
// mutates a Config after construction.
type Config struct {
	Environment Environment

	Server        ServerConfig
	Redis         RedisConfig
	GraphStore    GraphStoreConfig
	LLM           LLMConfig
	RateLimit     RateLimitConfig
	Validation    ValidationConfig
	CORS          CORSConfig
	Voice         VoiceConfig
	Treasury      TreasuryConfig
	Logging       LoggingConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	PheromindTTL  time.Duration
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string
	Port int

	// MaxConcurrentRequests caps in-flight requests before the surface
	// starts rejecting new work with 503.
	MaxConcurrentRequests int

	// RequestTimeout is the hard overall cap on one orchestrator request.
	RequestTimeout time.Duration
}

// RedisConfig configures the KV adapter backing the rate limiter and the
// treasury's budget cache.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// GraphStoreConfig configures the durable vertex/edge store backing the
// audit trail.
type GraphStoreConfig struct {
	Host string
	Port int
}

// ModelDescriptor is a single row of the static alias->backend table,
// loaded once at startup and immutable after.
type ModelDescriptor struct {
	Alias         string
	Provider      string // llamacpp | ollama | anthropic | openai | bedrock | google | other
	Host          string
	Port          int
	APIKey        string
	ContextSize   int
	DailyCostHint int
}

// ModelID returns the identifier the router passes to the backend client's
// Generate/HealthCheck calls. For the local provider this is unused (the
// client dials Host:Port directly); for every SDK-backed provider, Host
// carries the provider's own model name (e.g. "claude-sonnet-4-20250514"),
// per the "alias=provider:host:port" table format.
func (m ModelDescriptor) ModelID() string {
	return m.Host
}

// LLMConfig is the static model-alias table plus council/synthesis selection.
type LLMConfig struct {
	Models []ModelDescriptor

	// CouncilAliases are the N model aliases invoked in parallel during
	// CouncilDeliberation. There is no default list: Load fails when none
	// are configured.
	CouncilAliases []string

	// SynthesisAlias is the alias used for the Synthesis phase, distinct
	// from council members when possible.
	SynthesisAlias string

	// SmartRouterAlias is the alias used for intent classification. Empty
	// means fall back to the deterministic lexical classifier.
	SmartRouterAlias string

	RequestTimeout      time.Duration
	HealthCheckTimeout   time.Duration
	CouncilCallDeadline  time.Duration
	SynthesisDeadline    time.Duration
	MaxConcurrentPerAlias int
}

// RateLimitConfig carries the rate limiter's tunable defaults.
type RateLimitConfig struct {
	Enabled              bool
	IPPerMinute          int
	IPPerHour            int
	ChatPerMinute        int
	VoicePerMinute       int
	MaxWebSocketPerIP    int
	KeyPrefix            string
}

// ValidationConfig carries the request validator's tunable defaults.
type ValidationConfig struct {
	MaxRequestSizeBytes int64
	MaxJSONSizeBytes    int64
	MaxQueryParams      int
	MaxHeaders          int
	MaxHeaderSizeBytes  int
	BlockedUserAgents   []string
}

// CORSConfig configures cross-origin access; in production AllowedOrigins
// must be set explicitly.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

// VoiceConfig points at the external STT/TTS microservice.
type VoiceConfig struct {
	BaseURL        string
	DefaultVoiceID string
	DefaultLanguage string
	RequestTimeout time.Duration
}

// TreasuryConfig carries the treasury's seed/limit defaults.
type TreasuryConfig struct {
	DefaultSeedCents        int64
	DefaultDailyLimitCents  int64
	DefaultActionLimitCents int64
	BudgetCacheTTL          time.Duration
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string
	Format string // json | text
}

// AuthConfig configures bearer-token authentication on the admin surface
// (/api/agents, /api/analytics/economic). An empty secret disables auth
// outside production; in production it is a fatal startup error.
type AuthConfig struct {
	AdminJWTSecret string
	TokenExpiry    time.Duration
}

// ObservabilityConfig configures distributed tracing. An empty endpoint
// disables span export.
type ObservabilityConfig struct {
	OTLPEndpoint string
	SamplingRate float64
	Insecure     bool
}

// Load builds a Config from the process environment, applying defaults and
// failing fast on invalid or (in production) insecure values.
func Load() (*Config, error) {
	env := Environment(getEnvString("ENVIRONMENT", string(EnvDevelopment)))

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Host:                  getEnvString("API_HOST", "0.0.0.0"),
			Port:                  getEnvInt("API_PORT", 8080),
			MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", 256),
			RequestTimeout:        getEnvDuration("REQUEST_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		GraphStore: GraphStoreConfig{
			Host: getEnvString("TIGERGRAPH_HOST", "localhost"),
			Port: getEnvInt("TIGERGRAPH_PORT", 9000),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			IPPerMinute:       getEnvInt("RATE_LIMIT_IP_PER_MINUTE", 100),
			IPPerHour:         getEnvInt("RATE_LIMIT_IP_PER_HOUR", 1000),
			ChatPerMinute:     getEnvInt("RATE_LIMIT_CHAT_PER_MINUTE", 10),
			VoicePerMinute:    getEnvInt("RATE_LIMIT_VOICE_PER_MINUTE", 5),
			MaxWebSocketPerIP: getEnvInt("RATE_LIMIT_MAX_WS_PER_IP", 5),
			KeyPrefix:         getEnvString("RATE_LIMIT_KEY_PREFIX", "rate_limit"),
		},
		Validation: ValidationConfig{
			MaxRequestSizeBytes: getEnvInt64("MAX_REQUEST_SIZE_MB", 10) * 1024 * 1024,
			MaxJSONSizeBytes:    getEnvInt64("MAX_JSON_SIZE_MB", 1) * 1024 * 1024,
			MaxQueryParams:      getEnvInt("MAX_QUERY_PARAMS", 50),
			MaxHeaders:          getEnvInt("MAX_HEADERS", 100),
			MaxHeaderSizeBytes:  getEnvInt("MAX_HEADER_SIZE_BYTES", 8192),
			BlockedUserAgents:   getEnvStringSlice("BLOCKED_USER_AGENTS", []string{"bot", "crawler", "spider", "scraper", "scanner"}),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
		},
		Voice: VoiceConfig{
			BaseURL:         getEnvString("VOICE_SERVICE_URL", "http://localhost:8100"),
			DefaultVoiceID:  getEnvString("VOICE_DEFAULT_VOICE_ID", "default"),
			DefaultLanguage: getEnvString("VOICE_DEFAULT_LANGUAGE", "en"),
			RequestTimeout:  getEnvDuration("VOICE_REQUEST_TIMEOUT", 30*time.Second),
		},
		Treasury: TreasuryConfig{
			DefaultSeedCents:        getEnvInt64("TREASURY_DEFAULT_SEED_CENTS", 5000),
			DefaultDailyLimitCents:  getEnvInt64("TREASURY_DEFAULT_DAILY_LIMIT_CENTS", 10000),
			DefaultActionLimitCents: getEnvInt64("TREASURY_DEFAULT_ACTION_LIMIT_CENTS", 1000),
			BudgetCacheTTL:          getEnvDuration("TREASURY_BUDGET_CACHE_TTL", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", defaultLogFormat(env)),
		},
		Auth: AuthConfig{
			AdminJWTSecret: getEnvString("ADMIN_JWT_SECRET", ""),
			TokenExpiry:    getEnvDuration("ADMIN_TOKEN_EXPIRY", 24*time.Hour),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SamplingRate: getEnvFloat("OTEL_TRACES_SAMPLING_RATE", 1.0),
			Insecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		PheromindTTL: getEnvDuration("PHEROMIND_TTL", 12*time.Second),
	}

	cfg.LLM = loadLLMConfig()

	if path := getEnvString("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultLogFormat(env Environment) string {
	if env == EnvProduction || env == EnvStaging {
		return "json"
	}
	return "text"
}

// validate enforces invariants that must hold regardless of environment,
// and additional fatal checks that only apply in production: any missing
// secret or default credential refuses to start.
func (c *Config) validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("config: invalid ENVIRONMENT %q", c.Environment)
	}

	if len(c.LLM.Models) == 0 {
		return fmt.Errorf("config: no model backends configured (set LLM_MODELS)")
	}
	if c.LLM.SynthesisAlias == "" {
		return fmt.Errorf("config: LLM_SYNTHESIS_ALIAS is required")
	}
	if len(c.LLM.CouncilAliases) == 0 {
		return fmt.Errorf("config: LLM_COUNCIL_ALIASES is required")
	}

	if c.Environment != EnvProduction {
		return nil
	}

	if c.Redis.Password == "" {
		return fmt.Errorf("config: REDIS_PASSWORD is required in production")
	}
	if isDefaultCredential(c.Redis.Password) {
		return fmt.Errorf("config: REDIS_PASSWORD is a default/weak credential, refusing to start in production")
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		return fmt.Errorf("config: CORS_ALLOWED_ORIGINS must be set explicitly in production")
	}
	if c.Auth.AdminJWTSecret == "" {
		return fmt.Errorf("config: ADMIN_JWT_SECRET is required in production")
	}
	if isDefaultCredential(c.Auth.AdminJWTSecret) {
		return fmt.Errorf("config: ADMIN_JWT_SECRET is a default/weak credential, refusing to start in production")
	}
	for _, m := range c.LLM.Models {
		if (m.Provider == "anthropic" || m.Provider == "openai" || m.Provider == "google") && m.APIKey == "" {
			return fmt.Errorf("config: model alias %q (provider %s) has no API key configured in production", m.Alias, m.Provider)
		}
	}
	return nil
}

var defaultCredentials = map[string]bool{
	"":          true,
	"password":  true,
	"changeme":  true,
	"admin":     true,
	"redis":     true,
	"default":   true,
}

func isDefaultCredential(v string) bool {
	return defaultCredentials[strings.ToLower(strings.TrimSpace(v))]
}

// loadLLMConfig parses the LLM_MODELS table, a comma-separated list of
// alias=provider:host:port entries, e.g.
// "huihui=ollama:localhost:11434,mistral=ollama:localhost:11435".
func loadLLMConfig() LLMConfig {
	cfg := LLMConfig{
		CouncilAliases:        getEnvStringSlice("LLM_COUNCIL_ALIASES", nil),
		SynthesisAlias:        getEnvString("LLM_SYNTHESIS_ALIAS", ""),
		SmartRouterAlias:      getEnvString("LLM_SMART_ROUTER_ALIAS", ""),
		RequestTimeout:        getEnvDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
		HealthCheckTimeout:    getEnvDuration("LLM_HEALTH_CHECK_TIMEOUT", 5*time.Second),
		CouncilCallDeadline:   getEnvDuration("LLM_COUNCIL_CALL_DEADLINE", 45*time.Second),
		SynthesisDeadline:     getEnvDuration("LLM_SYNTHESIS_DEADLINE", 30*time.Second),
		MaxConcurrentPerAlias: getEnvInt("LLM_MAX_CONCURRENT_PER_ALIAS", 4),
	}

	raw := getEnvString("LLM_MODELS", "")
	if raw == "" {
		return cfg
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		desc, err := parseModelDescriptor(entry)
		if err != nil {
			continue
		}
		cfg.Models = append(cfg.Models, desc)
	}
	return cfg
}

// parseModelDescriptor parses one "alias=provider:host:port" table entry.
// The API key, if any, is read from <ALIAS>_API_KEY.
func parseModelDescriptor(entry string) (ModelDescriptor, error) {
	aliasAndRest := strings.SplitN(entry, "=", 2)
	if len(aliasAndRest) != 2 {
		return ModelDescriptor{}, fmt.Errorf("config: malformed LLM_MODELS entry %q", entry)
	}
	alias := strings.TrimSpace(aliasAndRest[0])
	parts := strings.Split(aliasAndRest[1], ":")
	if len(parts) < 2 {
		return ModelDescriptor{}, fmt.Errorf("config: malformed LLM_MODELS entry %q", entry)
	}
	provider := strings.TrimSpace(parts[0])
	host := strings.TrimSpace(parts[1])
	port := 0
	if len(parts) >= 3 {
		port, _ = strconv.Atoi(strings.TrimSpace(parts[2]))
	}
	envKey := strings.ToUpper(strings.ReplaceAll(alias, "-", "_")) + "_API_KEY"
	return ModelDescriptor{
		Alias:       alias,
		Provider:    provider,
		Host:        host,
		Port:        port,
		APIKey:      os.Getenv(envKey),
		ContextSize: getEnvInt(strings.ToUpper(alias)+"_CONTEXT_SIZE", 8192),
	}, nil
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
