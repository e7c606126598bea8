// Package treasury is the KIP economic engine: per-agent USD-cent budgets,
// daily spending resets, funds authorization, ROI-driven reward/penalty
// adjustments, and an emergency freeze circuit breaker.
//
// All amounts are integer cents. Budgets live in Redis behind a one-minute
// in-memory cache; each transaction is written to internal/kv under its own
// transaction:<id> key with a 24-hour TTL (internal/graphstore is
// vertex/edge storage with no read-back path, so it cannot serve as the
// ledger).
package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/orchestrator/internal/config"
	"github.com/example/orchestrator/internal/kv"
	"github.com/example/orchestrator/internal/metrics"
)

// TransactionKind labels why a transaction moved money.
type TransactionKind string

const (
	KindSeed            TransactionKind = "seed"
	KindEarning         TransactionKind = "earning"
	KindSpending        TransactionKind = "spending"
	KindROIAdjustment   TransactionKind = "roi_adjustment"
	KindPenalty         TransactionKind = "penalty"
	KindRefund          TransactionKind = "refund"
	KindEmergencyFreeze TransactionKind = "freeze"
	KindLimitAdjustment TransactionKind = "limit_adjustment"
)

// Budget is an agent's financial state in the KIP economy, all amounts in
// USD cents.
type Budget struct {
	AgentID             string  `json:"agent_id"`
	CurrentBalanceCents int64   `json:"current_balance_cents"`
	TotalSpentCents     int64   `json:"total_spent_cents"`
	TotalEarnedCents    int64   `json:"total_earned_cents"`
	DailySpentCents     int64   `json:"daily_spent_cents"`
	DailyLimitCents     int64   `json:"daily_limit_cents"`
	PerActionLimitCents int64   `json:"per_action_limit_cents"`
	LastResetDate       string  `json:"last_reset_date"` // YYYY-MM-DD, UTC
	Frozen              bool    `json:"frozen"`
	TotalTransactions   int     `json:"total_transactions"`
	ROIScore            float64 `json:"roi_score"`
}

// AvailableDailyBudget returns the remaining spendable amount today.
func (b Budget) AvailableDailyBudget() int64 {
	remaining := b.DailyLimitCents - b.DailySpentCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NetWorth returns lifetime earnings minus lifetime spending.
func (b Budget) NetWorth() int64 {
	return b.TotalEarnedCents - b.TotalSpentCents
}

// Transaction is an append-only record of one balance-affecting event.
type Transaction struct {
	ID            string          `json:"id"`
	AgentID       string          `json:"agent_id"`
	AmountCents   int64           `json:"amount_cents"`
	Kind          TransactionKind `json:"kind"`
	Description   string          `json:"description"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	ROIData       map[string]any  `json:"roi_data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// FundsCheck is the result of CheckFunds.
type FundsCheck struct {
	Approved       bool
	Reason         string
	AmountCents    int64
	CurrentBalance int64
	Shortfall      int64
	DailyRemaining int64
}

// EconomicAnalytics summarizes the whole KIP economy on demand.
type EconomicAnalytics struct {
	TotalAgents          int
	ActiveAgents         int
	FrozenAgents         int
	TotalBalanceCents    int64
	TotalSpentCents      int64
	TotalEarnedCents     int64
	TotalTransactions    int
	AvgROIScore          float64
	MostProfitableAgent  string
	EmergencyFreezeActive bool
}

// ErrAlreadyExists is returned by InitializeBudget when the agent already
// has a budget.
var ErrAlreadyExists = fmt.Errorf("treasury: agent already has a budget")

// Treasury is the economic engine. A nil store makes every operation fail
// closed (return an error) rather than silently fabricating balances —
// unlike the rate limiter's fail-open policy, money is never assumed.
type Treasury struct {
	store   *kv.Store
	metrics *metrics.Metrics
	cfg     config.TreasuryConfig

	agentMu sync.Map // agent_id -> *sync.Mutex, serializes per-agent operations

	cacheMu   sync.Mutex
	cache     map[string]cachedBudget

	freezeMu        sync.Mutex
	emergencyActive bool
}

type cachedBudget struct {
	budget  Budget
	cachedAt time.Time
}

// now is a seam for tests; production code always calls time.Now.
var now = time.Now

// New constructs a Treasury backed by store.
func New(cfg config.TreasuryConfig, store *kv.Store, m *metrics.Metrics) *Treasury {
	return &Treasury{
		store:   store,
		metrics: m,
		cfg:     cfg,
		cache:   make(map[string]cachedBudget),
	}
}

func (t *Treasury) lockFor(agentID string) func() {
	muAny, _ := t.agentMu.LoadOrStore(agentID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func budgetKey(agentID string) string { return "budget:" + agentID }

// InitializeBudget seeds a new agent's budget. Returns ErrAlreadyExists if
// the agent already has one.
func (t *Treasury) InitializeBudget(ctx context.Context, agentID string, seedCents, dailyLimitCents, perActionLimitCents int64) (Budget, error) {
	unlock := t.lockFor(agentID)
	defer unlock()

	if existing, err := t.getBudgetLocked(ctx, agentID); err != nil {
		return Budget{}, err
	} else if existing != nil {
		return Budget{}, ErrAlreadyExists
	}

	if seedCents <= 0 {
		seedCents = t.cfg.DefaultSeedCents
	}
	if dailyLimitCents <= 0 {
		dailyLimitCents = t.cfg.DefaultDailyLimitCents
	}
	if perActionLimitCents <= 0 {
		perActionLimitCents = t.cfg.DefaultActionLimitCents
	}

	budget := Budget{
		AgentID:             agentID,
		CurrentBalanceCents: seedCents,
		TotalEarnedCents:    seedCents,
		DailyLimitCents:     dailyLimitCents,
		PerActionLimitCents: perActionLimitCents,
		LastResetDate:       dateString(now()),
		TotalTransactions:   1,
	}

	txn := Transaction{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		AmountCents:   seedCents,
		Kind:          KindSeed,
		Description:   fmt.Sprintf("Seed funding for agent %s", agentID),
		BalanceBefore: 0,
		BalanceAfter:  seedCents,
		Timestamp:     now(),
	}

	if err := t.storeBudget(ctx, budget); err != nil {
		return Budget{}, err
	}
	if err := t.appendTransaction(ctx, txn); err != nil {
		return Budget{}, err
	}
	t.recordTxnMetric(KindSeed)
	return budget, nil
}

// GetBudget returns an agent's budget, applying the daily reset if a UTC
// day boundary has passed since last_reset_date. Returns (Budget{}, false,
// nil) if the agent is unknown.
func (t *Treasury) GetBudget(ctx context.Context, agentID string) (Budget, bool, error) {
	unlock := t.lockFor(agentID)
	defer unlock()

	budget, err := t.getBudgetLocked(ctx, agentID)
	if err != nil {
		return Budget{}, false, err
	}
	if budget == nil {
		return Budget{}, false, nil
	}
	return *budget, true, nil
}

// getBudgetLocked must be called with the agent's lock held. It reads the
// one-minute cache first, else loads from KV, applies the daily reset, and
// refreshes the cache.
func (t *Treasury) getBudgetLocked(ctx context.Context, agentID string) (*Budget, error) {
	if cached, ok := t.cachedBudget(agentID); ok {
		return &cached, nil
	}

	raw, found, err := t.store.GetString(ctx, budgetKey(agentID))
	if err != nil {
		return nil, fmt.Errorf("treasury: get budget %s: %w", agentID, err)
	}
	if !found {
		return nil, nil
	}

	var budget Budget
	if err := json.Unmarshal([]byte(raw), &budget); err != nil {
		return nil, fmt.Errorf("treasury: decode budget %s: %w", agentID, err)
	}

	if budget.LastResetDate < dateString(now()) {
		budget.DailySpentCents = 0
		budget.LastResetDate = dateString(now())
		if err := t.storeBudget(ctx, budget); err != nil {
			return nil, err
		}
	} else {
		t.setCachedBudget(budget)
	}

	return &budget, nil
}

func (t *Treasury) cachedBudget(agentID string) (Budget, bool) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	entry, ok := t.cache[agentID]
	if !ok {
		return Budget{}, false
	}
	if now().Sub(entry.cachedAt) >= t.cfg.BudgetCacheTTL {
		return Budget{}, false
	}
	return entry.budget, true
}

func (t *Treasury) setCachedBudget(b Budget) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	t.cache[b.AgentID] = cachedBudget{budget: b, cachedAt: now()}
}

func (t *Treasury) storeBudget(ctx context.Context, b Budget) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("treasury: encode budget %s: %w", b.AgentID, err)
	}
	if err := t.store.SetString(ctx, budgetKey(b.AgentID), string(data), 0); err != nil {
		return fmt.Errorf("treasury: store budget %s: %w", b.AgentID, err)
	}
	t.setCachedBudget(b)
	return nil
}

func (t *Treasury) appendTransaction(ctx context.Context, txn Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("treasury: encode transaction %s: %w", txn.ID, err)
	}
	if err := t.store.SetString(ctx, "transaction:"+txn.ID, string(data), 24*time.Hour); err != nil {
		return fmt.Errorf("treasury: store transaction %s: %w", txn.ID, err)
	}
	return nil
}

// CheckFunds evaluates whether agentID may spend amountCents. Rejection
// reasons are checked in a fixed priority order: invalid_amount,
// emergency_freeze, agent_not_found, agent_frozen, insufficient_balance,
// per_action_exceeded, daily_limit_exceeded.
func (t *Treasury) CheckFunds(ctx context.Context, agentID string, amountCents int64, description string) (FundsCheck, error) {
	if amountCents <= 0 {
		return FundsCheck{Approved: false, Reason: "invalid_amount", AmountCents: amountCents}, nil
	}
	if t.EmergencyActive() {
		return FundsCheck{Approved: false, Reason: "emergency_freeze", AmountCents: amountCents}, nil
	}

	unlock := t.lockFor(agentID)
	defer unlock()
	budget, err := t.getBudgetLocked(ctx, agentID)
	if err != nil {
		return FundsCheck{}, err
	}
	if budget == nil {
		return FundsCheck{Approved: false, Reason: "agent_not_found", AmountCents: amountCents}, nil
	}
	return checkFundsAgainst(*budget, amountCents), nil
}

func checkFundsAgainst(budget Budget, amountCents int64) FundsCheck {
	if budget.Frozen {
		return FundsCheck{Approved: false, Reason: "agent_frozen", AmountCents: amountCents, CurrentBalance: budget.CurrentBalanceCents}
	}
	if budget.CurrentBalanceCents < amountCents {
		return FundsCheck{
			Approved:       false,
			Reason:         "insufficient_balance",
			AmountCents:    amountCents,
			CurrentBalance: budget.CurrentBalanceCents,
			Shortfall:      amountCents - budget.CurrentBalanceCents,
		}
	}
	if amountCents > budget.PerActionLimitCents {
		return FundsCheck{Approved: false, Reason: "per_action_exceeded", AmountCents: amountCents, CurrentBalance: budget.CurrentBalanceCents}
	}
	if budget.DailySpentCents+amountCents > budget.DailyLimitCents {
		return FundsCheck{
			Approved:       false,
			Reason:         "daily_limit_exceeded",
			AmountCents:    amountCents,
			CurrentBalance: budget.CurrentBalanceCents,
			DailyRemaining: budget.AvailableDailyBudget(),
		}
	}
	return FundsCheck{
		Approved:       true,
		AmountCents:    amountCents,
		CurrentBalance: budget.CurrentBalanceCents,
		DailyRemaining: budget.AvailableDailyBudget() - amountCents,
	}
}

// RecordTransaction applies a signed amount to agentID's balance and
// appends an audit entry. For negative spending amounts it re-runs the
// funds check and returns (Transaction{}, false, nil) on rejection — the
// budget is left untouched.
func (t *Treasury) RecordTransaction(ctx context.Context, agentID string, amountCents int64, description string, kind TransactionKind, roiData map[string]any) (Transaction, bool, error) {
	unlock := t.lockFor(agentID)
	defer unlock()

	budget, err := t.getBudgetLocked(ctx, agentID)
	if err != nil {
		return Transaction{}, false, err
	}
	if budget == nil {
		return Transaction{}, false, fmt.Errorf("treasury: agent %s has no budget", agentID)
	}

	if amountCents < 0 && kind == KindSpending {
		check := checkFundsAgainst(*budget, -amountCents)
		if !check.Approved {
			return Transaction{}, false, nil
		}
	}

	balanceBefore := budget.CurrentBalanceCents
	balanceAfter := balanceBefore + amountCents

	txn := Transaction{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		AmountCents:   amountCents,
		Kind:          kind,
		Description:   description,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		ROIData:       roiData,
		Timestamp:     now(),
	}

	budget.CurrentBalanceCents = balanceAfter
	budget.TotalTransactions++
	if amountCents > 0 {
		budget.TotalEarnedCents += amountCents
	} else {
		budget.TotalSpentCents += -amountCents
		budget.DailySpentCents += -amountCents
	}

	if err := t.appendTransaction(ctx, txn); err != nil {
		return Transaction{}, false, err
	}
	if err := t.storeBudget(ctx, *budget); err != nil {
		return Transaction{}, false, err
	}
	t.recordTxnMetric(kind)
	return txn, true, nil
}

// CalculateROIAdjustment rewards profit at 50% and penalizes loss at 25%.
// Agents that earn keep growing their budget; agents that lose money bleed
// it.
func (t *Treasury) CalculateROIAdjustment(ctx context.Context, agentID string, revenueCents, costCents int64, description string) (Transaction, bool, error) {
	if costCents <= 0 {
		return Transaction{}, false, fmt.Errorf("treasury: cost_cents must be positive, got %d", costCents)
	}

	profitCents := revenueCents - costCents
	roiPercent := float64(profitCents) / float64(costCents) * 100

	var adjustmentCents int64
	var kind TransactionKind
	if roiPercent > 0 {
		adjustmentCents = int64(math.Ceil(float64(profitCents) * 0.5))
		kind = KindROIAdjustment
	} else {
		adjustmentCents = int64(math.Floor(float64(profitCents) * 0.25))
		kind = KindPenalty
	}

	roiData := map[string]any{
		"revenue_cents":     revenueCents,
		"cost_cents":        costCents,
		"profit_cents":      profitCents,
		"roi_percentage":    roiPercent,
		"action_description": description,
	}
	desc := fmt.Sprintf("ROI adjustment: %.1f%% ROI from %s. Revenue: %d¢, Cost: %d¢", roiPercent, description, revenueCents, costCents)

	return t.RecordTransaction(ctx, agentID, adjustmentCents, desc, kind, roiData)
}

// EmergencyActive reports whether the circuit breaker is currently tripped.
func (t *Treasury) EmergencyActive() bool {
	t.freezeMu.Lock()
	defer t.freezeMu.Unlock()
	return t.emergencyActive
}

// EmergencyFreezeAll trips the circuit breaker and freezes every known
// agent's budget, returning the count of agents newly frozen.
func (t *Treasury) EmergencyFreezeAll(ctx context.Context, reason string) (int, error) {
	t.freezeMu.Lock()
	t.emergencyActive = true
	t.freezeMu.Unlock()
	return t.toggleAllFrozen(ctx, true)
}

// EmergencyUnfreezeAll clears the circuit breaker and unfreezes every known
// agent's budget, returning the count of agents newly unfrozen.
func (t *Treasury) EmergencyUnfreezeAll(ctx context.Context, reason string) (int, error) {
	t.freezeMu.Lock()
	t.emergencyActive = false
	t.freezeMu.Unlock()
	return t.toggleAllFrozen(ctx, false)
}

func (t *Treasury) toggleAllFrozen(ctx context.Context, frozen bool) (int, error) {
	keys, err := t.store.Keys(ctx, "budget:*")
	if err != nil {
		return 0, fmt.Errorf("treasury: list budgets: %w", err)
	}
	changed := 0
	for _, key := range keys {
		agentID := key[len("budget:"):]
		unlock := t.lockFor(agentID)
		budget, err := t.getBudgetLocked(ctx, agentID)
		if err == nil && budget != nil && budget.Frozen != frozen {
			budget.Frozen = frozen
			if err := t.storeBudget(ctx, *budget); err == nil {
				changed++
			}
		}
		unlock()
	}
	if t.metrics != nil {
		t.metrics.TreasuryTransactions.WithLabelValues(string(KindEmergencyFreeze)).Add(float64(changed))
	}
	return changed, nil
}

// GetEconomicAnalytics aggregates every known agent's budget into a
// point-in-time snapshot.
func (t *Treasury) GetEconomicAnalytics(ctx context.Context) (EconomicAnalytics, error) {
	keys, err := t.store.Keys(ctx, "budget:*")
	if err != nil {
		return EconomicAnalytics{}, fmt.Errorf("treasury: list budgets: %w", err)
	}

	analytics := EconomicAnalytics{TotalAgents: len(keys), EmergencyFreezeActive: t.EmergencyActive()}
	var roiSum float64
	var roiCount int
	maxNetWorth := int64(math.MinInt64)

	for _, key := range keys {
		agentID := key[len("budget:"):]
		budget, found, err := t.GetBudget(ctx, agentID)
		if err != nil || !found {
			continue
		}
		analytics.TotalBalanceCents += budget.CurrentBalanceCents
		analytics.TotalSpentCents += budget.TotalSpentCents
		analytics.TotalEarnedCents += budget.TotalEarnedCents
		analytics.TotalTransactions += budget.TotalTransactions

		switch {
		case budget.Frozen:
			analytics.FrozenAgents++
		case budget.CurrentBalanceCents > 0:
			analytics.ActiveAgents++
		}

		roiSum += budget.ROIScore
		roiCount++

		if netWorth := budget.NetWorth(); netWorth > maxNetWorth {
			maxNetWorth = netWorth
			analytics.MostProfitableAgent = agentID
		}
	}

	if roiCount > 0 {
		analytics.AvgROIScore = roiSum / float64(roiCount)
	}
	return analytics, nil
}

func (t *Treasury) recordTxnMetric(kind TransactionKind) {
	if t.metrics != nil {
		t.metrics.TreasuryTransactions.WithLabelValues(string(kind)).Inc()
	}
}

func dateString(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}
