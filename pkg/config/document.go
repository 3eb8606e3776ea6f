package config

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rlvgl/backtide/pkg/notify"
	"github.com/rlvgl/backtide/pkg/strategy"
	"github.com/rlvgl/backtide/pkg/types"
)

// ErrInvalid wraps all validation failures so callers can map them
// onto the config_invalid exit code.
var ErrInvalid = errors.New("config: invalid")

// Document is the full run configuration submitted to the
// orchestrator. Unknown keys are rejected in strict mode and ignored
// otherwise.
type Document struct {
	Name          string              `yaml:"name" json:"name"`
	DataFeed      FeedConfig          `yaml:"data_feed" json:"data_feed"`
	Strategies    []StrategyConfig    `yaml:"strategies" json:"strategies"`
	Portfolio     PortfolioConfig     `yaml:"portfolio" json:"portfolio"`
	Execution     ExecutionConfig     `yaml:"execution" json:"execution"`
	Risk          []RiskConfig        `yaml:"risk" json:"risk"`
	Reporters     []ReporterConfig    `yaml:"reporters" json:"reporters"`
	Notifications *NotificationsConfig `yaml:"notifications" json:"notifications"`
}

// FeedConfig selects and parameterizes the data feed
type FeedConfig struct {
	Type              string      `yaml:"type" json:"type"`
	Path              string      `yaml:"path" json:"path"`
	Symbol            string      `yaml:"symbol" json:"symbol"`
	Symbols           []string    `yaml:"symbols" json:"symbols"`
	URL               string      `yaml:"url" json:"url"`
	AuthToken         string      `yaml:"auth_token" json:"auth_token"`
	PollInterval      string      `yaml:"poll_interval" json:"poll_interval"`
	HeartbeatInterval string      `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	Bars              []InlineBar `yaml:"bars" json:"bars"`
}

// InlineBar is one bar of an inmemory feed's inline data
type InlineBar struct {
	Symbol    string  `yaml:"symbol" json:"symbol"`
	Timestamp string  `yaml:"ts" json:"ts"`
	Open      float64 `yaml:"open" json:"open"`
	High      float64 `yaml:"high" json:"high"`
	Low       float64 `yaml:"low" json:"low"`
	Close     float64 `yaml:"close" json:"close"`
	Volume    float64 `yaml:"volume" json:"volume"`
	Amount    float64 `yaml:"amount" json:"amount"`
}

// StrategyConfig selects and parameterizes one strategy. For
// type "plugin", Ref names a constructor registered out of band.
type StrategyConfig struct {
	Type   string          `yaml:"type" json:"type"`
	ID     string          `yaml:"id" json:"id"`
	Ref    string          `yaml:"ref" json:"ref"`
	Params strategy.Params `yaml:",inline" json:"params"`
}

// PortfolioConfig parameterizes the portfolio
type PortfolioConfig struct {
	Type        string  `yaml:"type" json:"type"`
	LotSize     int64   `yaml:"lot_size" json:"lot_size"`
	InitialCash float64 `yaml:"initial_cash" json:"initial_cash"`
	MaxLeverage float64 `yaml:"max_leverage" json:"max_leverage"`
	OrderTIF    string  `yaml:"order_tif" json:"order_tif"`
}

// SlippageConfig parameterizes the slippage model
type SlippageConfig struct {
	Mode  string  `yaml:"mode" json:"mode"`
	Value float64 `yaml:"value" json:"value"`
}

// CommissionConfig parameterizes fill costs
type CommissionConfig struct {
	PerShare float64 `yaml:"per_share" json:"per_share"`
	Rate     float64 `yaml:"rate" json:"rate"`
}

// ExecutionConfig parameterizes the simulated broker
type ExecutionConfig struct {
	Type       string           `yaml:"type" json:"type"`
	FillTiming string           `yaml:"fill_timing" json:"fill_timing"`
	Slippage   SlippageConfig   `yaml:"slippage" json:"slippage"`
	Commission CommissionConfig `yaml:"commission" json:"commission"`
	VolumeCap  float64          `yaml:"volume_cap" json:"volume_cap"`
	Staleness  string           `yaml:"staleness_threshold" json:"staleness_threshold"`
}

// RiskConfig selects and parameterizes one risk rule
type RiskConfig struct {
	Type        string  `yaml:"type" json:"type"`
	Limit       int64   `yaml:"limit" json:"limit"`
	FeeRate     float64 `yaml:"fee_rate" json:"fee_rate"`
	MaxFraction float64 `yaml:"max_fraction" json:"max_fraction"`
	Band        float64 `yaml:"band" json:"band"`
}

// ReporterConfig selects and parameterizes one reporter
type ReporterConfig struct {
	Type string `yaml:"type" json:"type"`
	Path string `yaml:"path" json:"path"`
}

// NotificationsConfig enables the delivery plane for a run
type NotificationsConfig struct {
	Enabled          bool                   `yaml:"enabled" json:"enabled"`
	MinLevel         types.Severity         `yaml:"min_level" json:"min_level"`
	DedupeTTLSeconds int64                  `yaml:"dedupe_ttl_seconds" json:"dedupe_ttl_seconds"`
	Channels         []notify.ChannelConfig `yaml:"channels" json:"channels"`
}

// Parse decodes a YAML (or JSON, a YAML subset) document. Strict
// mode rejects unknown keys at any level; lenient mode ignores them
// for forward compatibility.
func Parse(data []byte, strict bool) (*Document, error) {
	var doc Document
	if strict {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks discriminators and required fields without
// constructing components.
func (d *Document) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}

	switch d.DataFeed.Type {
	case "inmemory":
		if len(d.DataFeed.Bars) == 0 {
			return fmt.Errorf("%w: inmemory feed requires bars", ErrInvalid)
		}
	case "local_csv", "local_file":
		if d.DataFeed.Path == "" || d.DataFeed.Symbol == "" {
			return fmt.Errorf("%w: csv feed requires path and symbol", ErrInvalid)
		}
	case "rest":
		if d.DataFeed.URL == "" {
			return fmt.Errorf("%w: rest feed requires url", ErrInvalid)
		}
	case "websocket", "push_stream", "live_api":
		if d.DataFeed.URL == "" {
			return fmt.Errorf("%w: websocket feed requires url", ErrInvalid)
		}
	case "":
		return fmt.Errorf("%w: data_feed.type is required", ErrInvalid)
	default:
		return fmt.Errorf("%w: unknown data_feed.type %q", ErrInvalid, d.DataFeed.Type)
	}
	for _, field := range []string{d.DataFeed.PollInterval, d.DataFeed.HeartbeatInterval} {
		if _, err := parseDuration(field); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	if len(d.Strategies) == 0 {
		return fmt.Errorf("%w: at least one strategy is required", ErrInvalid)
	}
	for i, s := range d.Strategies {
		name := s.Type
		if s.Type == "plugin" {
			if s.Ref == "" {
				return fmt.Errorf("%w: strategies[%d]: plugin requires ref", ErrInvalid, i)
			}
			name = s.Ref
		}
		known := false
		for _, k := range strategy.Known() {
			if k == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: strategies[%d]: unknown type %q", ErrInvalid, i, name)
		}
	}

	if d.Portfolio.Type != "" && d.Portfolio.Type != "naive" {
		return fmt.Errorf("%w: unknown portfolio.type %q", ErrInvalid, d.Portfolio.Type)
	}
	if d.Portfolio.LotSize <= 0 {
		return fmt.Errorf("%w: portfolio.lot_size must be positive", ErrInvalid)
	}
	if d.Portfolio.InitialCash <= 0 {
		return fmt.Errorf("%w: portfolio.initial_cash must be positive", ErrInvalid)
	}

	if d.Execution.Type != "" && d.Execution.Type != "immediate" {
		return fmt.Errorf("%w: unknown execution.type %q", ErrInvalid, d.Execution.Type)
	}
	switch d.Execution.FillTiming {
	case "", "current_close", "next_open":
	default:
		return fmt.Errorf("%w: unknown execution.fill_timing %q", ErrInvalid, d.Execution.FillTiming)
	}
	if _, err := parseDuration(d.Execution.Staleness); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	for i, r := range d.Risk {
		switch r.Type {
		case "max_position", "buying_power", "concentration", "price_band":
		default:
			return fmt.Errorf("%w: risk[%d]: unknown type %q", ErrInvalid, i, r.Type)
		}
	}

	for i, r := range d.Reporters {
		switch r.Type {
		case "equity", "detailed":
		case "tradelog", "tradelog_db":
			if r.Path == "" {
				return fmt.Errorf("%w: reporters[%d]: %s requires path", ErrInvalid, i, r.Type)
			}
		default:
			return fmt.Errorf("%w: reporters[%d]: unknown type %q", ErrInvalid, i, r.Type)
		}
	}

	if n := d.Notifications; n != nil && n.Enabled {
		for i, ch := range n.Channels {
			if ch.Type == "" {
				return fmt.Errorf("%w: notifications.channels[%d]: type is required", ErrInvalid, i)
			}
		}
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad duration %q", s)
	}
	return d, nil
}
