package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/metrics"
	"github.com/rlvgl/backtide/pkg/notify"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

// DispatcherConfig tunes the delivery worker pool
type DispatcherConfig struct {
	Workers       int
	BatchSize     int
	PollInterval  time.Duration
	LeaseDuration time.Duration
	SendTimeout   time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Dispatcher drains the outbox through channel adapters. Workers
// lease disjoint batches (the lease is the exclusivity mechanism), so
// parallel dispatchers never double-deliver, though cross-intent
// ordering is not guaranteed.
type Dispatcher struct {
	cfg      DispatcherConfig
	outbox   *Outbox
	mu       sync.RWMutex
	adapters map[string]notify.ChannelAdapter
	fallback notify.ChannelAdapter
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher delivering through the given
// adapters, keyed by channel reference. The fallback adapter serves
// intents whose channel has no registered adapter; nil means such
// intents fail permanently.
func NewDispatcher(o *Outbox, adapters map[string]notify.ChannelAdapter, fallback notify.ChannelAdapter, cfg DispatcherConfig) *Dispatcher {
	if adapters == nil {
		adapters = make(map[string]notify.ChannelAdapter)
	}
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		outbox:   o,
		adapters: adapters,
		fallback: fallback,
		logger:   log.WithComponent("dispatcher"),
		stopCh:   make(chan struct{}),
	}
}

// RegisterChannel binds a channel reference to an adapter. Runs
// register their configured channels when they start.
func (d *Dispatcher) RegisterChannel(ref string, adapter notify.ChannelAdapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[ref] = adapter
}

// Start begins the worker loops
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
}

// Stop stops the workers and waits for in-flight sends
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// run is one worker loop
func (d *Dispatcher) run(worker int) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	logger := d.logger.With().Int("worker", worker).Logger()
	logger.Debug().Msg("Dispatcher worker started")

	for {
		select {
		case <-ticker.C:
			if err := d.dispatchBatch(); err != nil {
				// Log error but continue
				logger.Error().Err(err).Msg("Dispatch cycle failed")
			}
		case <-d.stopCh:
			logger.Debug().Msg("Dispatcher worker stopped")
			return
		}
	}
}

// dispatchBatch leases one batch and attempts delivery of each intent
func (d *Dispatcher) dispatchBatch() error {
	batch, err := d.outbox.Lease(d.cfg.BatchSize, d.cfg.LeaseDuration)
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}

	for _, intent := range batch {
		select {
		case <-d.stopCh:
			// Leave the rest leased; lease expiry recovers them.
			return nil
		default:
		}
		d.deliver(intent)
	}
	return nil
}

func (d *Dispatcher) deliver(intent *types.NotificationIntent) {
	d.mu.RLock()
	adapter, ok := d.adapters[intent.Channel]
	d.mu.RUnlock()
	if !ok {
		adapter = d.fallback
	}
	if adapter == nil {
		d.fail(intent, "no adapter for channel "+intent.Channel, FailPermanent, 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	start := time.Now()
	result := adapter.Send(ctx, intent)
	cancel()
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	switch result.Status {
	case notify.StatusOK:
		if err := d.outbox.MarkSent(intent.ID); err != nil {
			d.logger.Error().Err(err).Str("intent_id", intent.ID).Msg("Failed to mark sent")
			return
		}
		metrics.IntentsDelivered.Inc()

	case notify.StatusRetryable:
		d.fail(intent, result.Reason, FailRetry, result.RetryAfter)

	case notify.StatusPermanent:
		d.fail(intent, result.Reason, FailPermanent, 0)
	}
}

func (d *Dispatcher) fail(intent *types.NotificationIntent, reason string, class FailClass, retryAfter time.Duration) {
	metrics.IntentsFailed.Inc()
	if err := d.outbox.MarkFailed(intent.ID, reason, class, retryAfter); err != nil {
		d.logger.Error().Err(err).Str("intent_id", intent.ID).Msg("Failed to record failure")
	}
}
