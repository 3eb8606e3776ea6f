package notify

import (
	"context"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

// LogAdapter delivers intents to the structured log. It is the
// default channel when none is configured and the sink of choice in
// tests; every send succeeds.
type LogAdapter struct {
	logger zerolog.Logger
}

// NewLogAdapter builds the adapter
func NewLogAdapter(cfg ChannelConfig) (ChannelAdapter, error) {
	return &LogAdapter{logger: log.WithComponent("log-adapter")}, nil
}

// Name identifies the adapter type
func (a *LogAdapter) Name() string { return "log" }

// Send writes the rendered intent to the log
func (a *LogAdapter) Send(ctx context.Context, intent *types.NotificationIntent) Result {
	a.logger.Info().
		Str("intent_id", intent.ID).
		Str("type", string(intent.Type)).
		Str("severity", string(intent.Severity)).
		Msg(RenderText(intent))
	return OK()
}

func init() {
	RegisterAdapter("log", NewLogAdapter)
	RegisterAdapter("webhook", NewWebhookAdapter)
}
