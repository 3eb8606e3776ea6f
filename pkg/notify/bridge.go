package notify

import (
	"encoding/json"
	"fmt"

	"github.com/rlvgl/backtide/pkg/types"
)

// BridgeConfig tunes the event-to-intent mapping
type BridgeConfig struct {
	// MinSeverity drops intents below this level
	MinSeverity types.Severity
	// DedupeTTLSeconds sizes the signal dedupe bucket
	DedupeTTLSeconds int64
	// Channel is the target channel reference stamped on intents
	Channel string
}

// Bridge is the stateless mapping from kernel events to notification
// intents. One bridge serves one run's relay; it owns no state beyond
// its configuration, so replaying the same events yields the same
// intents with the same dedupe keys.
type Bridge struct {
	cfg BridgeConfig
}

// NewBridge applies defaults
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = types.SeverityInfo
	}
	if cfg.DedupeTTLSeconds <= 0 {
		cfg.DedupeTTLSeconds = 300
	}
	return &Bridge{cfg: cfg}
}

// IntentFor maps one transport event record to an intent, or nil when
// the event kind carries no notification or severity filtering drops
// it.
func (b *Bridge) IntentFor(rec *types.EventRecord) (*types.NotificationIntent, error) {
	var (
		intentType types.IntentType
		severity   types.Severity
		dedupeKey  string
	)

	switch rec.Kind {
	case types.EventSignal:
		var ev types.SignalEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return nil, fmt.Errorf("bridge: decode signal: %w", err)
		}
		intentType = types.IntentStrategySignal
		severity = types.SeverityInfo
		dedupeKey = b.signalKey(rec, &ev)

	case types.EventFill:
		var ev types.FillEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return nil, fmt.Errorf("bridge: decode fill: %w", err)
		}
		intentType = types.IntentFillReport
		severity = types.SeverityInfo
		dedupeKey = fmt.Sprintf("fill:%s:%d", ev.OrderID, rec.Seq)

	case types.EventRiskReject:
		var ev types.RiskRejectEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return nil, fmt.Errorf("bridge: decode risk reject: %w", err)
		}
		intentType = types.IntentRiskAlert
		severity = types.SeverityWarning
		dedupeKey = "risk:" + ev.RejectID

	case types.EventAlert:
		var ev types.AlertEvent
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return nil, fmt.Errorf("bridge: decode alert: %w", err)
		}
		intentType = types.IntentSystemAlert
		severity = types.SeverityCritical
		dedupeKey = "alert:" + ev.AlertID

	default:
		return nil, nil
	}

	if !severity.AtLeast(b.cfg.MinSeverity) {
		return nil, nil
	}

	id := fmt.Sprintf("%s-%d", rec.RunID, rec.Seq)
	if b.cfg.Channel != "" {
		id += ":" + b.cfg.Channel
	}
	return &types.NotificationIntent{
		ID:        id,
		DedupeKey: dedupeKey,
		Type:      intentType,
		Severity:  severity,
		Payload:   rec.Payload,
		Channel:   b.cfg.Channel,
		Status:    types.IntentPending,
	}, nil
}

// signalKey derives the deterministic dedupe fingerprint for signal
// intents: run, strategy, symbol, occurred-at bucket, direction.
// Bucketing on occurred-at keeps replays stable but means replayed
// historical runs collapse into the original's window; callers
// replaying with notifications enabled accept that.
func (b *Bridge) signalKey(rec *types.EventRecord, ev *types.SignalEvent) string {
	bucket := rec.OccurredAt.Unix() / b.cfg.DedupeTTLSeconds
	return fmt.Sprintf("%s:%s:%s:%d:%s", rec.RunID, ev.StrategyID, ev.Symbol, bucket, ev.Direction)
}
