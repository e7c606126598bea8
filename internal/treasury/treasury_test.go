package treasury

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/example/orchestrator/internal/config"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return ts
}

// Tests below exercise the pure, store-independent logic
// (checkFundsAgainst, ROI math, serialization) since a real *kv.Store
// requires a live Redis; the store-backed paths (InitializeBudget,
// GetBudget, RecordTransaction) need one to run against.

func TestCheckFundsAgainst_InsufficientBalance(t *testing.T) {
	budget := Budget{AgentID: "a1", CurrentBalanceCents: 50, DailyLimitCents: 10000, PerActionLimitCents: 1000}
	result := checkFundsAgainst(budget, 100)
	if result.Approved || result.Reason != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance rejection, got %+v", result)
	}
	if result.Shortfall != 50 {
		t.Fatalf("expected shortfall 50, got %d", result.Shortfall)
	}
}

func TestCheckFundsAgainst_Frozen(t *testing.T) {
	budget := Budget{AgentID: "a1", CurrentBalanceCents: 5000, Frozen: true, DailyLimitCents: 10000, PerActionLimitCents: 1000}
	result := checkFundsAgainst(budget, 100)
	if result.Approved || result.Reason != "agent_frozen" {
		t.Fatalf("expected agent_frozen rejection, got %+v", result)
	}
}

func TestCheckFundsAgainst_PerActionExceeded(t *testing.T) {
	budget := Budget{AgentID: "a1", CurrentBalanceCents: 5000, DailyLimitCents: 10000, PerActionLimitCents: 100}
	result := checkFundsAgainst(budget, 200)
	if result.Approved || result.Reason != "per_action_exceeded" {
		t.Fatalf("expected per_action_exceeded rejection, got %+v", result)
	}
}

func TestCheckFundsAgainst_DailyLimitExceeded(t *testing.T) {
	budget := Budget{AgentID: "a1", CurrentBalanceCents: 5000, DailySpentCents: 9950, DailyLimitCents: 10000, PerActionLimitCents: 1000}
	result := checkFundsAgainst(budget, 100)
	if result.Approved || result.Reason != "daily_limit_exceeded" {
		t.Fatalf("expected daily_limit_exceeded rejection, got %+v", result)
	}
}

func TestCheckFundsAgainst_Approved(t *testing.T) {
	budget := Budget{AgentID: "a1", CurrentBalanceCents: 5000, DailyLimitCents: 10000, PerActionLimitCents: 1000}
	result := checkFundsAgainst(budget, 500)
	if !result.Approved {
		t.Fatalf("expected approval, got %+v", result)
	}
	if result.DailyRemaining != 9500 {
		t.Fatalf("expected daily remaining 9500, got %d", result.DailyRemaining)
	}
}

func TestCheckFunds_InvalidAmount(t *testing.T) {
	tr := New(config.TreasuryConfig{}, nil, nil)
	result, err := tr.CheckFunds(context.Background(), "a1", 0, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Approved || result.Reason != "invalid_amount" {
		t.Fatalf("expected invalid_amount rejection, got %+v", result)
	}
}

func TestCheckFunds_EmergencyFreezeShortCircuits(t *testing.T) {
	tr := New(config.TreasuryConfig{}, nil, nil)
	tr.emergencyActive = true
	result, err := tr.CheckFunds(context.Background(), "a1", 100, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Approved || result.Reason != "emergency_freeze" {
		t.Fatalf("expected emergency_freeze rejection, got %+v", result)
	}
}

func TestCalculateROIAdjustment_RejectsNonPositiveCost(t *testing.T) {
	tr := New(config.TreasuryConfig{}, nil, nil)
	_, _, err := tr.CalculateROIAdjustment(context.Background(), "a1", 100, 0, "test")
	if err == nil {
		t.Fatalf("expected error for zero cost")
	}
}

func TestROIAdjustmentMath_PositiveROIHalvesProfit(t *testing.T) {
	revenueCents, costCents := int64(300), int64(100)
	profitCents := revenueCents - costCents
	adjustment := int64(float64(profitCents) * 0.5)
	if adjustment != 100 {
		t.Fatalf("expected reward of 100, got %d", adjustment)
	}
}

func TestROIAdjustmentMath_NegativeROIQuartersLoss(t *testing.T) {
	revenueCents, costCents := int64(50), int64(100)
	profitCents := revenueCents - costCents // -50
	adjustment := int64(math.Floor(float64(profitCents) * 0.25))
	if adjustment != -13 {
		t.Fatalf("expected penalty of -13 (floored), got %d", adjustment)
	}
}

func TestDateString_FormatsUTC(t *testing.T) {
	if got := dateString(mustParseTime(t, "2026-08-02T23:59:59Z")); got != "2026-08-02" {
		t.Fatalf("expected 2026-08-02, got %q", got)
	}
}

func TestCheckFundsAgainst_ExactPerActionLimitAdmitted(t *testing.T) {
	budget := Budget{AgentID: "a1", CurrentBalanceCents: 5000, DailyLimitCents: 10000, PerActionLimitCents: 100}
	if result := checkFundsAgainst(budget, 100); !result.Approved {
		t.Fatalf("expected approval at exactly the per-action limit, got %+v", result)
	}
	if result := checkFundsAgainst(budget, 101); result.Approved || result.Reason != "per_action_exceeded" {
		t.Fatalf("expected per_action_exceeded one cent over, got %+v", result)
	}
}

func TestCheckFundsAgainst_ExactDailyLimitAdmitted(t *testing.T) {
	budget := Budget{AgentID: "a1", CurrentBalanceCents: 5000, DailySpentCents: 9900, DailyLimitCents: 10000, PerActionLimitCents: 1000}
	if result := checkFundsAgainst(budget, 100); !result.Approved {
		t.Fatalf("expected approval at exactly the daily limit, got %+v", result)
	}
	if result := checkFundsAgainst(budget, 101); result.Approved || result.Reason != "daily_limit_exceeded" {
		t.Fatalf("expected daily_limit_exceeded one cent over, got %+v", result)
	}
}

func TestBudgetSerializationRoundTrip(t *testing.T) {
	in := Budget{
		AgentID:             "data_analyst_01",
		CurrentBalanceCents: 4321,
		TotalSpentCents:     679,
		TotalEarnedCents:    5000,
		DailySpentCents:     120,
		DailyLimitCents:     10000,
		PerActionLimitCents: 1000,
		LastResetDate:       "2026-08-02",
		Frozen:              true,
		TotalTransactions:   7,
		ROIScore:            1.5,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Budget
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}
