package config

import (
	"testing"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

const validDoc = `
name: ma-cross-demo
data_feed:
  type: inmemory
  bars:
    - {symbol: AAPL, ts: "2024-01-02T00:00:00Z", open: 100, high: 101, low: 99, close: 100.5, volume: 10000}
    - {symbol: AAPL, ts: "2024-01-03T00:00:00Z", open: 100.5, high: 102, low: 100, close: 101.5, volume: 12000}
strategies:
  - type: moving_average
    symbol: AAPL
    short: 3
    long: 8
portfolio:
  type: naive
  lot_size: 100
  initial_cash: 100000
execution:
  type: immediate
  fill_timing: next_open
risk:
  - type: max_position
    limit: 200
reporters:
  - type: equity
`

func TestParseValid(t *testing.T) {
	doc, err := Parse([]byte(validDoc), true)
	require.NoError(t, err)
	assert.Equal(t, "ma-cross-demo", doc.Name)
	assert.Len(t, doc.DataFeed.Bars, 2)
	assert.Equal(t, 3, doc.Strategies[0].Params.Short)
}

func TestStrictModeRejectsUnknownKeys(t *testing.T) {
	withUnknown := validDoc + "\nfrobnicate: true\n"

	_, err := Parse([]byte(withUnknown), true)
	assert.ErrorIs(t, err, ErrInvalid)

	// Lenient mode ignores the unknown key.
	doc, err := Parse([]byte(withUnknown), false)
	require.NoError(t, err)
	assert.Equal(t, "ma-cross-demo", doc.Name)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Document)
	}{
		{"missing name", func(d *Document) { d.Name = "" }},
		{"unknown feed", func(d *Document) { d.DataFeed.Type = "telepathy" }},
		{"no strategies", func(d *Document) { d.Strategies = nil }},
		{"unknown strategy", func(d *Document) { d.Strategies[0].Type = "astrology" }},
		{"plugin without ref", func(d *Document) { d.Strategies[0].Type = "plugin"; d.Strategies[0].Ref = "" }},
		{"zero lot", func(d *Document) { d.Portfolio.LotSize = 0 }},
		{"zero cash", func(d *Document) { d.Portfolio.InitialCash = 0 }},
		{"bad fill timing", func(d *Document) { d.Execution.FillTiming = "yesterday_close" }},
		{"unknown risk", func(d *Document) { d.Risk = []RiskConfig{{Type: "vibes"}} }},
		{"unknown reporter", func(d *Document) { d.Reporters = []ReporterConfig{{Type: "fax"}} }},
		{"tradelog without path", func(d *Document) { d.Reporters = []ReporterConfig{{Type: "tradelog"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(validDoc), true)
			require.NoError(t, err)
			tt.mutate(doc)
			assert.ErrorIs(t, doc.Validate(), ErrInvalid)
		})
	}
}

func TestBuildAssemblesEngine(t *testing.T) {
	doc, err := Parse([]byte(validDoc), true)
	require.NoError(t, err)

	eng, err := Build(doc, BuildOptions{RunID: "run-1"})
	require.NoError(t, err)
	assert.NotNil(t, eng)
}

func TestBuildRejectsBadStrategyParams(t *testing.T) {
	doc, err := Parse([]byte(validDoc), true)
	require.NoError(t, err)
	doc.Strategies[0].Params.Short = 10 // short >= long

	_, err = Build(doc, BuildOptions{RunID: "run-1"})
	assert.ErrorIs(t, err, ErrInvalid)
}
