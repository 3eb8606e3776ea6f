package notify

import (
	"encoding/json"
	"fmt"

	"github.com/rlvgl/backtide/pkg/types"
)

// RenderText renders an intent payload into the plain-text message
// body for channels without structured formats. Unknown or
// undecodable payloads degrade to a generic line rather than failing
// delivery.
func RenderText(intent *types.NotificationIntent) string {
	switch intent.Type {
	case types.IntentStrategySignal:
		var ev types.SignalEvent
		if err := json.Unmarshal(intent.Payload, &ev); err == nil {
			return fmt.Sprintf("[signal] %s %s %s (strength %.2f): %s",
				ev.StrategyID, ev.Direction, ev.Symbol, ev.Strength, ev.Reason)
		}
	case types.IntentFillReport:
		var ev types.FillEvent
		if err := json.Unmarshal(intent.Payload, &ev); err == nil {
			return fmt.Sprintf("[fill] %s %s %d @ %.4f (commission %.2f, remaining %d)",
				ev.Side, ev.Symbol, ev.Quantity, ev.Price, ev.Commission, ev.Remaining)
		}
	case types.IntentRiskAlert:
		var ev types.RiskRejectEvent
		if err := json.Unmarshal(intent.Payload, &ev); err == nil {
			return fmt.Sprintf("[risk] %s rejected by %s: %s", ev.Symbol, ev.Rule, ev.Reason)
		}
	case types.IntentSystemAlert:
		var ev types.AlertEvent
		if err := json.Unmarshal(intent.Payload, &ev); err == nil {
			return fmt.Sprintf("[system] %s %s: %s", ev.Alert, ev.Symbol, ev.Detail)
		}
	}
	return fmt.Sprintf("[%s] intent %s", intent.Type, intent.ID)
}
