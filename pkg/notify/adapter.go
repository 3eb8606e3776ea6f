package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rlvgl/backtide/pkg/types"
)

// Status classifies a delivery attempt
type Status int

const (
	// StatusOK means the channel accepted the message
	StatusOK Status = iota
	// StatusRetryable covers transient failures: network errors,
	// rate limits, 5xx responses, timeouts.
	StatusRetryable
	// StatusPermanent covers failures retrying cannot fix:
	// validation errors, unknown recipients, 4xx responses.
	StatusPermanent
)

// Result is the outcome of one ChannelAdapter send
type Result struct {
	Status Status
	Reason string
	// RetryAfter is a server-indicated back-off window; the
	// dispatcher schedules the next attempt no earlier than this.
	RetryAfter time.Duration
}

// OK reports acceptance
func OK() Result { return Result{Status: StatusOK} }

// Retryable reports a transient failure
func Retryable(reason string, retryAfter time.Duration) Result {
	return Result{Status: StatusRetryable, Reason: reason, RetryAfter: retryAfter}
}

// Permanent reports a failure that must not be retried
func Permanent(reason string) Result {
	return Result{Status: StatusPermanent, Reason: reason}
}

// ChannelAdapter is a pluggable transport to an external channel.
// Adapters render the intent payload through a per-intent-type
// template and obey the channel's authentication and rate-limit
// protocols. Send must honor the context deadline.
type ChannelAdapter interface {
	// Name identifies the adapter type in configs and logs
	Name() string

	// Send attempts delivery of one intent
	Send(ctx context.Context, intent *types.NotificationIntent) Result
}

// AdapterConstructor builds an adapter from channel configuration
type AdapterConstructor func(cfg ChannelConfig) (ChannelAdapter, error)

// ChannelConfig is one entry of the notifications.channels config list
type ChannelConfig struct {
	Type        string         `yaml:"type" json:"type"`
	Destination string         `yaml:"destination" json:"destination"`
	Credentials string         `yaml:"credentials_reference" json:"credentials_reference"`
	MinSeverity types.Severity `yaml:"min_severity" json:"min_severity"`
}

var (
	mu       sync.RWMutex
	registry = map[string]AdapterConstructor{}
)

// RegisterAdapter binds an adapter type to a constructor. Built-ins
// register at init; embedding programs add their own (chat bots,
// email) before submitting configs that name them.
func RegisterAdapter(name string, c AdapterConstructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = c
}

// NewAdapter builds the adapter registered under cfg.Type
func NewAdapter(cfg ChannelConfig) (ChannelAdapter, error) {
	mu.RLock()
	c, ok := registry[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notify: unknown channel type %q (known: %v)", cfg.Type, KnownAdapters())
	}
	return c(cfg)
}

// KnownAdapters returns the registered adapter types, sorted
func KnownAdapters() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
