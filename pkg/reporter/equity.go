package reporter

import (
	"fmt"
	"os"
	"time"

	"github.com/rlvgl/backtide/pkg/types"
)

// EquityPoint is one sample of the equity curve
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// Equity records (timestamp, equity) per MetricsEvent. With a path
// configured each point is also appended to a CSV file as it arrives.
type Equity struct {
	points []EquityPoint
	file   *os.File
	path   string
}

// NewEquity creates the reporter; path may be empty for in-memory
// only operation.
func NewEquity(path string) *Equity {
	return &Equity{path: path}
}

// OnStart opens the sink
func (r *Equity) OnStart() error {
	if r.path == "" {
		return nil
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("equity reporter: %w", err)
	}
	r.file = f
	return nil
}

// OnFinish closes the sink
func (r *Equity) OnFinish() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// OnMarket is a no-op: equity samples follow metrics, not bars
func (r *Equity) OnMarket(ev *types.MarketEvent) error { return nil }

// OnFill is a no-op
func (r *Equity) OnFill(ev *types.FillEvent) error { return nil }

// OnMetrics appends one equity sample
func (r *Equity) OnMetrics(ev *types.MetricsEvent) error {
	point := EquityPoint{Timestamp: ev.OccurredAt, Equity: ev.Equity}
	r.points = append(r.points, point)
	if r.file != nil {
		line := fmt.Sprintf("%s,%.6f\n", point.Timestamp.UTC().Format(time.RFC3339), point.Equity)
		if _, err := r.file.WriteString(line); err != nil {
			return fmt.Errorf("equity reporter: append: %w", err)
		}
	}
	return nil
}

// Curve returns the recorded samples
func (r *Equity) Curve() []EquityPoint {
	return r.points
}
