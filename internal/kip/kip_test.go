package kip

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistry_RejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	tool := Tool{Name: "dup", Active: true, Run: func(ctx context.Context, p map[string]any) (any, error) { return nil, nil }}
	if err := r.Register(tool); err != nil {
		t.Fatalf("unexpected error on first register: %v", err)
	}
	if err := r.Register(tool); err == nil {
		t.Fatalf("expected error on duplicate register")
	}
}

func TestIsAuthorized_MatchesByNameOrCategory(t *testing.T) {
	tool := Tool{Name: "get_bitcoin_price", Category: "web", MinAuthLevel: AuthBasic}
	byName := AgentGenome{AuthorizedTools: []ToolCapability{{ToolName: "get_bitcoin_price", AuthLevel: AuthBasic}}}
	byCategory := AgentGenome{AuthorizedTools: []ToolCapability{{ToolType: "web", AuthLevel: AuthBasic}}}
	unrelated := AgentGenome{AuthorizedTools: []ToolCapability{{ToolName: "other_tool", AuthLevel: AuthFull}}}

	if !isAuthorized(byName, tool) {
		t.Fatalf("expected authorization by exact tool name match")
	}
	if !isAuthorized(byCategory, tool) {
		t.Fatalf("expected authorization by category match")
	}
	if isAuthorized(unrelated, tool) {
		t.Fatalf("expected no authorization for unrelated capability")
	}
}

func TestIsAuthorized_RequiresSufficientAuthLevel(t *testing.T) {
	tool := Tool{Name: "premium_tool", MinAuthLevel: AuthAdvanced}
	tooLow := AgentGenome{AuthorizedTools: []ToolCapability{{ToolName: "premium_tool", AuthLevel: AuthBasic}}}
	sufficient := AgentGenome{AuthorizedTools: []ToolCapability{{ToolName: "premium_tool", AuthLevel: AuthFull}}}

	if isAuthorized(tooLow, tool) {
		t.Fatalf("expected rejection for insufficient auth level")
	}
	if !isAuthorized(sufficient, tool) {
		t.Fatalf("expected authorization for sufficient auth level")
	}
}

func TestUsageTracker_IncrementsAndExpires(t *testing.T) {
	u := newUsageTracker()
	day1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u.increment("agent1", "toolA", day1)
	u.increment("agent1", "toolA", day1)
	if got := u.get("agent1", "toolA", dateString(day1)); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}

	day9 := day1.AddDate(0, 0, 9)
	u.increment("agent1", "toolB", day9)
	if got := u.get("agent1", "toolA", dateString(day1)); got != 0 {
		t.Fatalf("expected day1 entry purged after 9 days, got %d", got)
	}
}

type fakeAgentResolver map[string]AgentGenome

func (f fakeAgentResolver) Get(ctx context.Context, agentID string) (AgentGenome, bool, error) {
	g, ok := f[agentID]
	return g, ok, nil
}

func TestExecuteAction_ToolNotFound(t *testing.T) {
	exec := NewExecutor(NewRegistry(), fakeAgentResolver{}, nil, nil)
	result := exec.ExecuteAction(context.Background(), "agent1", "missing", nil)
	if result.Status != "rejected" {
		t.Fatalf("expected rejected status, got %q (%s)", result.Status, result.ErrorMessage)
	}
}

func TestExecuteAction_ToolInactive(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Tool{Name: "inactive_tool", Active: false})
	exec := NewExecutor(reg, fakeAgentResolver{}, nil, nil)
	result := exec.ExecuteAction(context.Background(), "agent1", "inactive_tool", nil)
	if result.Status != "rejected" {
		t.Fatalf("expected rejected status, got %q", result.Status)
	}
}

func TestExecuteAction_NotAuthorized(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Tool{Name: "guarded_tool", Active: true, MinAuthLevel: AuthFull})
	agents := fakeAgentResolver{"agent1": {AgentID: "agent1", Status: StatusActive}}
	exec := NewExecutor(reg, agents, nil, nil)
	result := exec.ExecuteAction(context.Background(), "agent1", "guarded_tool", nil)
	if result.Status != "rejected" {
		t.Fatalf("expected rejected status for unauthorized agent, got %q", result.Status)
	}
}

func TestExecuteAction_ToolError(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Tool{
		Name:         "free_tool",
		Active:       true,
		MinAuthLevel: AuthBasic,
		MaxDailyUses: 10,
		Timeout:      time.Second,
		Run: func(ctx context.Context, p map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	})
	agents := fakeAgentResolver{"agent1": {
		AgentID:         "agent1",
		Status:          StatusActive,
		AuthorizedTools: []ToolCapability{{ToolName: "free_tool", AuthLevel: AuthBasic}},
	}}
	exec := NewExecutor(reg, agents, nil, nil)
	result := exec.ExecuteAction(context.Background(), "agent1", "free_tool", nil)
	if result.Status != "error" || result.ErrorMessage != "boom" {
		t.Fatalf("expected error status with message 'boom', got %+v", result)
	}
}

func TestExecuteAction_Success(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Tool{
		Name:         "free_tool",
		Active:       true,
		MinAuthLevel: AuthBasic,
		MaxDailyUses: 10,
		Timeout:      time.Second,
		Run: func(ctx context.Context, p map[string]any) (any, error) {
			return "ok", nil
		},
	})
	agents := fakeAgentResolver{"agent1": {
		AgentID:         "agent1",
		Status:          StatusActive,
		AuthorizedTools: []ToolCapability{{ToolName: "free_tool", AuthLevel: AuthBasic}},
	}}
	exec := NewExecutor(reg, agents, nil, nil)
	result := exec.ExecuteAction(context.Background(), "agent1", "free_tool", nil)
	if result.Status != "success" || result.ResultData != "ok" {
		t.Fatalf("expected success with data 'ok', got %+v", result)
	}
}

func TestExecuteAction_DailyLimitExceeded(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Tool{
		Name:         "limited_tool",
		Active:       true,
		MinAuthLevel: AuthBasic,
		MaxDailyUses: 1,
		Timeout:      time.Second,
		Run: func(ctx context.Context, p map[string]any) (any, error) {
			return "ok", nil
		},
	})
	agents := fakeAgentResolver{"agent1": {
		AgentID:         "agent1",
		Status:          StatusActive,
		AuthorizedTools: []ToolCapability{{ToolName: "limited_tool", AuthLevel: AuthBasic}},
	}}
	exec := NewExecutor(reg, agents, nil, nil)
	first := exec.ExecuteAction(context.Background(), "agent1", "limited_tool", nil)
	if first.Status != "success" {
		t.Fatalf("expected first call to succeed, got %q", first.Status)
	}
	second := exec.ExecuteAction(context.Background(), "agent1", "limited_tool", nil)
	if second.Status != "rejected" {
		t.Fatalf("expected second call to be rejected by daily limit, got %q", second.Status)
	}
}

func TestNormalizeAgentID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Data Analyst 01", "data_analyst_01", false},
		{"  researcher  ", "researcher", false},
		{"AGENT1", "agent1", false},
		{"ab", "", true},
		{" a ", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeAgentID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeAgentID(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeAgentID(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeAgentID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExecuteAction_RejectsShortAgentID(t *testing.T) {
	exec := NewExecutor(NewRegistry(), fakeAgentResolver{}, nil, nil)
	result := exec.ExecuteAction(context.Background(), "ab", "any_tool", nil)
	if result.Status != "rejected" {
		t.Fatalf("expected rejection for short agent id, got %q", result.Status)
	}
}
