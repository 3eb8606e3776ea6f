package reporter

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rlvgl/backtide/pkg/types"
)

// TradeLog appends every fill to a durable sink: a line-oriented file
// or a small relational table. It is an independent writer, eventually
// consistent with the portfolio's in-memory state.
type TradeLog struct {
	runID string
	file  *os.File
	db    *sql.DB

	// avgCost reproduces the portfolio's average-cost bookkeeping so
	// realized PnL can be stamped on closing entries without coupling
	// to portfolio internals.
	avgCost map[string]float64
	held    map[string]int64
}

// NewTradeLogFile opens a line-oriented append-only trade log
func NewTradeLogFile(runID, path string) (*TradeLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("trade log: %w", err)
	}
	return &TradeLog{
		runID:   runID,
		file:    f,
		avgCost: make(map[string]float64),
		held:    make(map[string]int64),
	}, nil
}

// NewTradeLogDB opens (creating if needed) a sqlite-backed trade log
func NewTradeLogDB(runID, path string) (*TradeLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trade log: open database: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS trade_log (
		run_id     TEXT NOT NULL,
		ts         TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		side       TEXT NOT NULL,
		qty        INTEGER NOT NULL,
		price      REAL NOT NULL,
		commission REAL NOT NULL,
		realized   REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_log_run ON trade_log (run_id, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trade log: migrate: %w", err)
	}
	return &TradeLog{
		runID:   runID,
		db:      db,
		avgCost: make(map[string]float64),
		held:    make(map[string]int64),
	}, nil
}

// OnFinish closes the sink
func (r *TradeLog) OnFinish() error {
	if r.file != nil {
		return r.file.Close()
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// OnStart is a no-op: sinks open at construction so config errors
// surface before the run starts.
func (r *TradeLog) OnStart() error { return nil }

// OnMarket is a no-op
func (r *TradeLog) OnMarket(ev *types.MarketEvent) error { return nil }

// OnMetrics is a no-op
func (r *TradeLog) OnMetrics(ev *types.MetricsEvent) error { return nil }

// OnFill appends one entry
func (r *TradeLog) OnFill(ev *types.FillEvent) error {
	realized := r.track(ev)

	if r.file != nil {
		line := fmt.Sprintf("%s,%s,%s,%s,%d,%.6f,%.6f,%.6f\n",
			r.runID,
			ev.FilledAt.UTC().Format(time.RFC3339),
			ev.Symbol,
			ev.Side,
			ev.Quantity,
			ev.Price,
			ev.Commission,
			realized,
		)
		if _, err := r.file.WriteString(line); err != nil {
			return fmt.Errorf("trade log: append: %w", err)
		}
		return nil
	}

	_, err := r.db.Exec(
		`INSERT INTO trade_log (run_id, ts, symbol, side, qty, price, commission, realized)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.runID,
		ev.FilledAt.UTC().Format(time.RFC3339),
		ev.Symbol,
		string(ev.Side),
		ev.Quantity,
		ev.Price,
		ev.Commission,
		realized,
	)
	if err != nil {
		return fmt.Errorf("trade log: insert: %w", err)
	}
	return nil
}

func (r *TradeLog) track(ev *types.FillEvent) float64 {
	switch ev.Side {
	case types.SideBuy:
		total := r.avgCost[ev.Symbol]*float64(r.held[ev.Symbol]) + ev.Price*float64(ev.Quantity)
		r.held[ev.Symbol] += ev.Quantity
		r.avgCost[ev.Symbol] = total / float64(r.held[ev.Symbol])
		return 0
	case types.SideSell:
		realized := (ev.Price - r.avgCost[ev.Symbol]) * float64(ev.Quantity)
		r.held[ev.Symbol] -= ev.Quantity
		if r.held[ev.Symbol] <= 0 {
			r.held[ev.Symbol] = 0
			r.avgCost[ev.Symbol] = 0
		}
		return realized
	}
	return 0
}
