package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/example/orchestrator/internal/kv"
)

// pheromindKeyPrefix namespaces the ambient-signal keys. Pheromind working
// memory is the same Redis the rate limiter and treasury already share,
// not a dedicated service.
const pheromindKeyPrefix = "pheromind:"

// PheromindStore is the ambient-signal store PheromindScan reads from and
// Synthesis writes to. A nil *kv.Store degrades every call to an empty
// result rather than failing the phase.
type PheromindStore struct {
	kv  *kv.Store
	ttl time.Duration
}

// NewPheromindStore builds a store with the configured signal TTL
// (PHEROMIND_TTL, default 12s).
func NewPheromindStore(store *kv.Store, ttl time.Duration) *PheromindStore {
	if ttl <= 0 {
		ttl = 12 * time.Second
	}
	return &PheromindStore{kv: store, ttl: ttl}
}

func conversationFingerprint(conversationID string) string {
	sum := sha256.Sum256([]byte(conversationID))
	return hex.EncodeToString(sum[:8])
}

func signalKey(fingerprint, patternID string) string {
	return fmt.Sprintf("%s%s:%s", pheromindKeyPrefix, fingerprint, patternID)
}

type storedSignal struct {
	PatternID   string    `json:"pattern_id"`
	Strength    float64   `json:"strength"`
	TTLDeadline time.Time `json:"ttl_deadline"`
}

// Record deposits one ambient signal for a conversation, to be read back
// by a later exploratory-intent turn. Synthesis calls this after a
// deliberation completes so the store accumulates signals across turns
// instead of staying permanently empty.
func (p *PheromindStore) Record(ctx context.Context, conversationID, patternID string, strength float64) error {
	if p == nil || p.kv == nil {
		return nil
	}
	deadline := time.Now().Add(p.ttl)
	payload, err := json.Marshal(storedSignal{PatternID: patternID, Strength: strength, TTLDeadline: deadline})
	if err != nil {
		return err
	}
	key := signalKey(conversationFingerprint(conversationID), patternID)
	return p.kv.SetString(ctx, key, string(payload), p.ttl)
}

// Scan returns up to limit unexpired signals for a conversation, strongest
// signal first. A Redis error or unavailable store yields an
// empty, non-erroring result — PheromindScan degrades rather than fails.
func (p *PheromindStore) Scan(ctx context.Context, conversationID string, limit int) []Signal {
	if p == nil || p.kv == nil {
		return nil
	}
	keys, err := p.kv.Keys(ctx, signalKey(conversationFingerprint(conversationID), "*"))
	if err != nil {
		return nil
	}
	signals := make([]Signal, 0, len(keys))
	now := time.Now()
	for _, key := range keys {
		raw, ok, err := p.kv.GetString(ctx, key)
		if err != nil || !ok {
			continue
		}
		var s storedSignal
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		if now.After(s.TTLDeadline) {
			continue
		}
		signals = append(signals, Signal{PatternID: s.PatternID, Strength: s.Strength, TTLDeadline: s.TTLDeadline})
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].Strength > signals[j].Strength })
	if limit > 0 && len(signals) > limit {
		signals = signals[:limit]
	}
	return signals
}
