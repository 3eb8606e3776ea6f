package outbox

import (
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor periodically releases expired leases and refreshes the
// outbox gauges. One janitor runs per controller process.
type Janitor struct {
	outbox *Outbox
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewJanitor schedules lease recovery and metrics refresh on the
// given cron spec (e.g. "@every 30s").
func NewJanitor(o *Outbox, spec string) (*Janitor, error) {
	j := &Janitor{
		outbox: o,
		cron:   cron.New(),
		logger: log.WithComponent("outbox-janitor"),
	}
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		return nil, err
	}
	return j, nil
}

// Start runs one immediate sweep, then the schedule
func (j *Janitor) Start() {
	j.sweep()
	j.cron.Start()
}

// Stop halts the schedule
func (j *Janitor) Stop() {
	j.cron.Stop()
}

func (j *Janitor) sweep() {
	if _, err := j.outbox.Recover(); err != nil {
		j.logger.Error().Err(err).Msg("Lease recovery failed")
	}
	stats, err := j.outbox.Stats()
	if err != nil {
		j.logger.Error().Err(err).Msg("Stats refresh failed")
		return
	}
	for status, count := range stats.ByStatus {
		metrics.OutboxIntents.WithLabelValues(string(status)).Set(float64(count))
	}
	metrics.OutboxOldestPendingAge.Set(stats.OldestPendingAge.Seconds())
}
