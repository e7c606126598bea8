package orchestrator

import "testing"

func TestClassifyLexical_SimpleQuery(t *testing.T) {
	intent, confidence := classifyLexical("What is the capital of France?")
	if intent != IntentSimpleQuery {
		t.Fatalf("expected simple_query, got %q (confidence %.2f)", intent, confidence)
	}
}

func TestClassifyLexical_ComplexReasoning(t *testing.T) {
	intent, _ := classifyLexical("Can you compare and analyze the pros and cons of remote work?")
	if intent != IntentComplexReasoning {
		t.Fatalf("expected complex_reasoning, got %q", intent)
	}
}

func TestClassifyLexical_Exploratory(t *testing.T) {
	intent, _ := classifyLexical("Explore the patterns and find connections between my notes")
	if intent != IntentExploratory {
		t.Fatalf("expected exploratory, got %q", intent)
	}
}

func TestClassifyLexical_Action(t *testing.T) {
	intent, _ := classifyLexical("Execute the quarterly sales report")
	if intent != IntentAction {
		t.Fatalf("expected action, got %q", intent)
	}
}

func TestClassifyLexical_NoSignalDefaultsConservative(t *testing.T) {
	intent, confidence := classifyLexical("xyz abc")
	if intent != IntentComplexReasoning || confidence >= 0.5 {
		t.Fatalf("expected conservative complex_reasoning with confidence<0.5, got %q %.2f", intent, confidence)
	}
}

func TestParseClassifierResponse_ValidJSON(t *testing.T) {
	intent, confidence, ok := parseClassifierResponse(`Sure, here you go: {"intent": "action", "confidence": 0.9}`)
	if !ok || intent != IntentAction || confidence != 0.9 {
		t.Fatalf("expected action/0.9, got %q %.2f ok=%v", intent, confidence, ok)
	}
}

func TestParseClassifierResponse_InvalidIntentRejected(t *testing.T) {
	_, _, ok := parseClassifierResponse(`{"intent": "not_a_real_intent", "confidence": 0.9}`)
	if ok {
		t.Fatalf("expected rejection of unrecognized intent")
	}
}

func TestParseClassifierResponse_NoJSONRejected(t *testing.T) {
	_, _, ok := parseClassifierResponse("no json here at all")
	if ok {
		t.Fatalf("expected rejection when no JSON object present")
	}
}
