package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/example/orchestrator/internal/kip"
)

// ToolExecutor is the subset of *kip.Executor the orchestrator needs —
// extracted for the same fake-friendly-testing reason as Generator.
type ToolExecutor interface {
	ExecuteAction(ctx context.Context, agentID, toolName string, params map[string]any) kip.ActionResult
}

type actionSpec struct {
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`
}

// parseActionSpec extracts {tool_name, params} from the synthesizer's
// output. A missing or malformed spec is not an error — the caller treats
// it as a no-op.
func parseActionSpec(synthesized string) (actionSpec, bool) {
	start := strings.IndexByte(synthesized, '{')
	end := strings.LastIndexByte(synthesized, '}')
	if start < 0 || end <= start {
		return actionSpec{}, false
	}
	var spec actionSpec
	if err := json.Unmarshal([]byte(synthesized[start:end+1]), &spec); err != nil {
		return actionSpec{}, false
	}
	if spec.ToolName == "" {
		return actionSpec{}, false
	}
	return spec, true
}

// runKIPExecution parses the synthesized response for an action spec and,
// if present, dispatches it through the KIP executor, appending the tool's
// result to the final response. A parse failure or absent spec leaves the
// synthesized response untouched.
func (o *Orchestrator) runKIPExecution(ctx context.Context, synthesized string) (string, *kip.ActionResult) {
	spec, ok := parseActionSpec(synthesized)
	if !ok || o.toolExecutor == nil {
		return synthesized, nil
	}
	result := o.toolExecutor.ExecuteAction(ctx, o.actionAgentID, spec.ToolName, spec.Params)
	if result.Status != "success" {
		return synthesized, &result
	}
	return synthesized + "\n\n" + formatActionResult(result), &result
}

func formatActionResult(result kip.ActionResult) string {
	if result.ResultData == nil {
		return "Action " + result.ToolName + " completed."
	}
	encoded, err := json.Marshal(result.ResultData)
	if err != nil {
		return "Action " + result.ToolName + " completed."
	}
	return "Action " + result.ToolName + " result: " + string(encoded)
}
