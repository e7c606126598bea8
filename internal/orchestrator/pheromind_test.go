package orchestrator

import (
	"context"
	"testing"
)

func TestPheromindStore_NilStoreDegradesToEmpty(t *testing.T) {
	store := NewPheromindStore(nil, 0)
	signals := store.Scan(context.Background(), "conversation-1", 20)
	if signals != nil {
		t.Fatalf("expected nil signals for unavailable store, got %v", signals)
	}
	if err := store.Record(context.Background(), "conversation-1", "pattern", 0.5); err != nil {
		t.Fatalf("expected nil-store Record to no-op without error, got %v", err)
	}
}

func TestConversationFingerprint_StableAndDistinct(t *testing.T) {
	a := conversationFingerprint("conversation-1")
	b := conversationFingerprint("conversation-1")
	c := conversationFingerprint("conversation-2")
	if a != b {
		t.Fatalf("expected stable fingerprint, got %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("expected distinct fingerprints for distinct conversation ids")
	}
}
