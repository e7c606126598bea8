// Package kip implements the KIP (Knowledge-Incentive Protocol) tool
// registry and executor: a static catalog of callable tools, per-agent
// authorization resolution against an agent's genome,
// per-(agent,tool,UTC-date) daily quotas, and the debit-first/no-refund
// execution sequence that gates a tool call on the treasury.
//
// Agent genomes and authorized-tool capabilities are kept in Redis as the
// speed-layer read path (internal/kv) and mirrored into internal/graphstore
// as the audit trail — the same dual-storage split the treasury uses for
// budgets.
package kip

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/orchestrator/internal/graphstore"
	"github.com/example/orchestrator/internal/kv"
	"github.com/example/orchestrator/internal/metrics"
	"github.com/example/orchestrator/internal/treasury"
)

// AuthLevel is one of the four KIP authorization tiers, ordered weakest to
// strongest.
type AuthLevel string

const (
	AuthBasic        AuthLevel = "basic"
	AuthIntermediate AuthLevel = "intermediate"
	AuthAdvanced     AuthLevel = "advanced"
	AuthFull         AuthLevel = "full"
)

var authRank = map[AuthLevel]int{
	AuthBasic:        0,
	AuthIntermediate: 1,
	AuthAdvanced:     2,
	AuthFull:         3,
}

func rankOf(level AuthLevel) int {
	if r, ok := authRank[level]; ok {
		return r
	}
	return 0
}

// AgentFunction is an agent genome's primary role.
type AgentFunction string

const (
	FunctionDataAnalyst    AgentFunction = "data_analyst"
	FunctionContentCreator AgentFunction = "content_creator"
	FunctionResearcher     AgentFunction = "researcher"
	FunctionCoordinator    AgentFunction = "coordinator"
	FunctionMonitor        AgentFunction = "monitor"
	FunctionExecutor       AgentFunction = "executor"
	FunctionSpecialist     AgentFunction = "specialist"
	FunctionCustom         AgentFunction = "custom"
)

// AgentStatus is an agent genome's operational state.
type AgentStatus string

const (
	StatusInactive    AgentStatus = "inactive"
	StatusActive      AgentStatus = "active"
	StatusBusy        AgentStatus = "busy"
	StatusError       AgentStatus = "error"
	StatusMaintenance AgentStatus = "maintenance"
	StatusRetired     AgentStatus = "retired"
)

// ToolCapability grants an agent the right to use one tool (by name) or
// every tool in a category, at a given authorization level.
type ToolCapability struct {
	ToolName  string    `json:"tool_name,omitempty"`
	ToolType  string    `json:"tool_type,omitempty"`
	AuthLevel AuthLevel `json:"auth_level"`
	GrantedAt time.Time `json:"granted_at"`
}

// AgentGenome is an agent's persistent configuration: identity, status,
// and the tools it is authorized to invoke.
type AgentGenome struct {
	AgentID         string           `json:"agent_id"`
	Function        AgentFunction    `json:"function"`
	Status          AgentStatus      `json:"status"`
	AuthorizedTools []ToolCapability `json:"authorized_tools"`
	MaxConcurrent   int              `json:"max_concurrent"`
	DefaultTimeout  time.Duration    `json:"default_timeout"`
	Priority        int              `json:"priority"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsAvailable reports whether the agent can currently accept work.
func (g AgentGenome) IsAvailable() bool { return g.Status == StatusActive }

// NormalizeAgentID canonicalizes an agent identifier: lowercased, each
// interior space replaced by an underscore, minimum 3 characters after
// trimming.
func NormalizeAgentID(agentID string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(agentID))
	id = strings.ReplaceAll(id, " ", "_")
	if len(id) < 3 {
		return "", fmt.Errorf("kip: agent id %q too short (minimum 3 characters)", agentID)
	}
	return id, nil
}

// ToolFunc is the callable body of a registered tool.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// Tool is one callable capability in the registry.
type Tool struct {
	Name         string
	Description  string
	CostCents    int64
	Category     string
	MinAuthLevel AuthLevel
	MaxDailyUses int
	Timeout      time.Duration
	Active       bool
	Run          ToolFunc
}

// ActionResult is the outcome of one ExecuteAction call.
type ActionResult struct {
	ActionID             string    `json:"action_id"`
	AgentID              string    `json:"agent_id"`
	ToolName             string    `json:"tool_name"`
	Status               string    `json:"status"` // success|error|timeout|rejected
	ResultData           any       `json:"result_data,omitempty"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
	ErrorMessage         string    `json:"error_message,omitempty"`
	CostCents            int64     `json:"cost_cents"`
	TransactionID        string    `json:"transaction_id,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// Registry is the static, in-process catalog of tools KIP agents may call.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, failing if its name already exists.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("kip: tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, in no particular order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// AuthorizedTools returns the subset of the registry an agent may call:
// tools matched by name or category, at or below the agent's granted auth
// level.
func (r *Registry) AuthorizedTools(genome AgentGenome) []Tool {
	var out []Tool
	for _, t := range r.List() {
		if !t.Active {
			continue
		}
		if isAuthorized(genome, t) {
			out = append(out, t)
		}
	}
	return out
}

func isAuthorized(genome AgentGenome, t Tool) bool {
	for _, capability := range genome.AuthorizedTools {
		matches := capability.ToolName == t.Name || (capability.ToolType != "" && capability.ToolType == t.Category)
		if matches && rankOf(capability.AuthLevel) >= rankOf(t.MinAuthLevel) {
			return true
		}
	}
	return false
}

// AgentResolver looks up an agent's genome for authorization checks.
// Implemented by *AgentStore; tests may supply a fake.
type AgentResolver interface {
	Get(ctx context.Context, agentID string) (AgentGenome, bool, error)
}

// AgentStore persists agent genomes: Redis as the authoritative read path,
// graphstore as the write-through audit trail.
type AgentStore struct {
	kv    *kv.Store
	graph *graphstore.Store
}

// NewAgentStore constructs an AgentStore. graph may be nil to skip the
// audit-trail mirror (e.g. in tests).
func NewAgentStore(store *kv.Store, graph *graphstore.Store) *AgentStore {
	return &AgentStore{kv: store, graph: graph}
}

func agentKey(agentID string) string { return "agent:" + agentID }

// Get loads an agent genome by ID. The ID is canonicalized first, so
// lookups are insensitive to case and spacing.
func (s *AgentStore) Get(ctx context.Context, agentID string) (AgentGenome, bool, error) {
	agentID, err := NormalizeAgentID(agentID)
	if err != nil {
		return AgentGenome{}, false, err
	}
	raw, found, err := s.kv.GetString(ctx, agentKey(agentID))
	if err != nil {
		return AgentGenome{}, false, fmt.Errorf("kip: get agent %s: %w", agentID, err)
	}
	if !found {
		return AgentGenome{}, false, nil
	}
	var genome AgentGenome
	if err := json.Unmarshal([]byte(raw), &genome); err != nil {
		return AgentGenome{}, false, fmt.Errorf("kip: decode agent %s: %w", agentID, err)
	}
	return genome, true, nil
}

// Put writes a genome to the speed-layer store and mirrors the agent
// vertex and its CAN_USE edges into the graph store.
func (s *AgentStore) Put(ctx context.Context, genome AgentGenome) error {
	id, err := NormalizeAgentID(genome.AgentID)
	if err != nil {
		return err
	}
	genome.AgentID = id
	data, err := json.Marshal(genome)
	if err != nil {
		return fmt.Errorf("kip: encode agent %s: %w", genome.AgentID, err)
	}
	if err := s.kv.SetString(ctx, agentKey(genome.AgentID), string(data), 0); err != nil {
		return fmt.Errorf("kip: store agent %s: %w", genome.AgentID, err)
	}

	if s.graph == nil {
		return nil
	}
	vertex := graphstore.Vertex{
		Type: "KIPAgent",
		ID:   genome.AgentID,
		Attributes: map[string]any{
			"function": string(genome.Function),
			"status":   string(genome.Status),
			"priority": genome.Priority,
		},
	}
	if err := s.graph.UpsertVertex(ctx, vertex); err != nil {
		return fmt.Errorf("kip: mirror agent vertex %s: %w", genome.AgentID, err)
	}
	for _, capability := range genome.AuthorizedTools {
		edge := graphstore.Edge{Type: "CAN_USE", From: genome.AgentID, To: capability.ToolName}
		if err := s.graph.AddEdge(ctx, edge); err != nil {
			return fmt.Errorf("kip: mirror CAN_USE edge %s->%s: %w", genome.AgentID, capability.ToolName, err)
		}
	}
	return nil
}

// List returns every agent genome currently in the store, for the
// admin-facing agent listing surface.
func (s *AgentStore) List(ctx context.Context) ([]AgentGenome, error) {
	keys, err := s.kv.Keys(ctx, agentKey("*"))
	if err != nil {
		return nil, fmt.Errorf("kip: list agents: %w", err)
	}
	genomes := make([]AgentGenome, 0, len(keys))
	for _, key := range keys {
		agentID := strings.TrimPrefix(key, "agent:")
		genome, found, err := s.Get(ctx, agentID)
		if err != nil || !found {
			continue
		}
		genomes = append(genomes, genome)
	}
	return genomes, nil
}

// usageKey identifies one agent/tool/UTC-date usage bucket.
type usageKey struct {
	agentID string
	tool    string
	date    string
}

// usageTracker counts daily tool invocations per agent in-process. A
// single orchestrator process is the unit of deployment, so no shared
// store is needed for these counters.
type usageTracker struct {
	mu     sync.Mutex
	counts map[usageKey]int
}

func newUsageTracker() *usageTracker {
	return &usageTracker{counts: make(map[usageKey]int)}
}

func (u *usageTracker) get(agentID, tool string, today string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[usageKey{agentID, tool, today}]
}

// increment bumps the counter for today and discards entries older than 7
// days so the map doesn't grow without bound.
func (u *usageTracker) increment(agentID, tool string, today time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	key := usageKey{agentID, tool, dateString(today)}
	u.counts[key]++

	cutoff := today.AddDate(0, 0, -7)
	for k := range u.counts {
		d, err := time.Parse("2006-01-02", k.date)
		if err != nil || d.Before(cutoff) {
			delete(u.counts, k)
		}
	}
}

func dateString(ts time.Time) string { return ts.UTC().Format("2006-01-02") }

// Executor runs authorized tool calls on behalf of agents, gating each on
// authorization, daily quota, and Treasury funds.
type Executor struct {
	registry *Registry
	agents   AgentResolver
	treasury *treasury.Treasury
	metrics  *metrics.Metrics
	usage    *usageTracker

	clock func() time.Time
}

// NewExecutor constructs an Executor. treasury may be nil to skip funds
// gating entirely (free tools only).
func NewExecutor(registry *Registry, agents AgentResolver, tr *treasury.Treasury, m *metrics.Metrics) *Executor {
	return &Executor{
		registry: registry,
		agents:   agents,
		treasury: tr,
		metrics:  m,
		usage:    newUsageTracker(),
		clock:    time.Now,
	}
}

// ExecuteAction runs the five pre-execution gates (tool exists, tool
// active, agent authorized, under daily quota, funds available), then
// debits the tool's cost before invoking it. The debit is never refunded
// on timeout or execution error.
func (e *Executor) ExecuteAction(ctx context.Context, agentID, toolName string, params map[string]any) ActionResult {
	actionID := uuid.NewString()
	start := e.clock()

	result := func(status, errMsg string, costCents int64, txnID string) ActionResult {
		return ActionResult{
			ActionID:             actionID,
			AgentID:              agentID,
			ToolName:             toolName,
			Status:               status,
			ErrorMessage:         errMsg,
			ExecutionTimeSeconds: e.clock().Sub(start).Seconds(),
			CostCents:            costCents,
			TransactionID:        txnID,
			Timestamp:            start,
		}
	}

	normalized, err := NormalizeAgentID(agentID)
	if err != nil {
		return e.reject(result("rejected", err.Error(), 0, ""))
	}
	agentID = normalized

	// Gate 1: tool exists.
	tool, ok := e.registry.Get(toolName)
	if !ok {
		return e.reject(result("rejected", fmt.Sprintf("tool %q not found", toolName), 0, ""))
	}
	// Gate 2: tool is active.
	if !tool.Active {
		return e.reject(result("rejected", fmt.Sprintf("tool %q is inactive", toolName), 0, ""))
	}
	// Gate 3: agent authorization.
	genome, found, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return e.reject(result("error", err.Error(), 0, ""))
	}
	if !found || !isAuthorized(genome, tool) {
		return e.reject(result("rejected", fmt.Sprintf("agent %q not authorized for tool %q", agentID, toolName), 0, ""))
	}
	// Gate 4: daily use quota.
	today := e.clock()
	used := e.usage.get(agentID, toolName, dateString(today))
	if tool.MaxDailyUses > 0 && used >= tool.MaxDailyUses {
		return e.reject(result("rejected", fmt.Sprintf("daily usage limit exceeded for tool %q (%d/%d)", toolName, used, tool.MaxDailyUses), 0, ""))
	}
	// Gate 5: funds.
	var transactionID string
	if e.treasury != nil && tool.CostCents > 0 {
		check, err := e.treasury.CheckFunds(ctx, agentID, tool.CostCents, "Tool execution: "+toolName)
		if err != nil {
			return e.reject(result("error", err.Error(), tool.CostCents, ""))
		}
		if !check.Approved {
			return e.reject(result("rejected", "insufficient funds: "+check.Reason, tool.CostCents, ""))
		}
		txn, debited, err := e.treasury.RecordTransaction(ctx, agentID, -tool.CostCents, "Tool execution: "+toolName, treasury.KindSpending, nil)
		if err != nil {
			return e.reject(result("error", err.Error(), tool.CostCents, ""))
		}
		if !debited {
			return e.reject(result("rejected", "insufficient funds at debit time", tool.CostCents, ""))
		}
		transactionID = txn.ID
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(tool.Timeout))
	defer cancel()

	type runOutcome struct {
		data any
		err  error
	}
	outcomeCh := make(chan runOutcome, 1)
	go func() {
		data, err := tool.Run(runCtx, params)
		outcomeCh <- runOutcome{data: data, err: err}
	}()

	select {
	case <-runCtx.Done():
		out := result("timeout", fmt.Sprintf("tool execution timed out after %s", tool.Timeout), tool.CostCents, transactionID)
		e.recordOutcome(toolName, "timeout")
		return out
	case outcome := <-outcomeCh:
		if outcome.err != nil {
			out := result("error", outcome.err.Error(), tool.CostCents, transactionID)
			e.recordOutcome(toolName, "error")
			return out
		}
		e.usage.increment(agentID, toolName, today)
		out := result("success", "", tool.CostCents, transactionID)
		out.ResultData = outcome.data
		e.recordOutcome(toolName, "success")
		return out
	}
}

func (e *Executor) reject(r ActionResult) ActionResult {
	e.recordOutcome(r.ToolName, "rejected")
	return r
}

func (e *Executor) recordOutcome(toolName, status string) {
	if e.metrics != nil {
		e.metrics.KIPExecutions.WithLabelValues(toolName, status).Inc()
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
