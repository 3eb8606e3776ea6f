package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// WebhookAdapter POSTs rendered intents to an HTTP endpoint. Sends
// are rate-limited client-side and classified by response status:
// 2xx ok, 408/429/5xx retryable (honoring Retry-After), other 4xx
// permanent.
type WebhookAdapter struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewWebhookAdapter builds the adapter from channel config. The
// destination is the target URL; the credentials reference is used
// as a bearer token when present.
func NewWebhookAdapter(cfg ChannelConfig) (ChannelAdapter, error) {
	if cfg.Destination == "" {
		return nil, fmt.Errorf("webhook adapter: destination url is required")
	}
	return &WebhookAdapter{
		url:     cfg.Destination,
		token:   cfg.Credentials,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:  log.WithComponent("webhook-adapter"),
	}, nil
}

// Name identifies the adapter type
func (a *WebhookAdapter) Name() string { return "webhook" }

// Send delivers one intent
func (a *WebhookAdapter) Send(ctx context.Context, intent *types.NotificationIntent) Result {
	if err := a.limiter.Wait(ctx); err != nil {
		return Retryable(fmt.Sprintf("rate limiter: %v", err), 0)
	}

	body, err := json.Marshal(map[string]interface{}{
		"intent_id": intent.ID,
		"type":      intent.Type,
		"severity":  intent.Severity,
		"text":      RenderText(intent),
		"payload":   json.RawMessage(intent.Payload),
	})
	if err != nil {
		return Permanent(fmt.Sprintf("encode: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are retryable.
		return Retryable(fmt.Sprintf("post: %v", err), 0)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OK()
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return Retryable(fmt.Sprintf("status %d", resp.StatusCode), retryAfter(resp))
	default:
		return Permanent(fmt.Sprintf("status %d", resp.StatusCode))
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
