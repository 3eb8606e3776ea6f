package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rlvgl/backtide/pkg/engine"
)

// Params are the type-specific parameters of one strategy entry in a
// config document.
type Params struct {
	Symbol   string  `yaml:"symbol" json:"symbol"`
	Short    int     `yaml:"short" json:"short"`
	Long     int     `yaml:"long" json:"long"`
	Lookback int     `yaml:"lookback" json:"lookback"`
	Strength float64 `yaml:"strength" json:"strength"`
}

// Constructor builds a strategy from config parameters
type Constructor func(id string, p Params) (engine.Strategy, error)

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{}
)

// Register binds a discriminator string to a constructor. Built-ins
// register at init; embedding programs register plug-in strategies
// before submitting configs that name them. There is no runtime code
// loading.
func Register(name string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = c
}

// New builds the strategy registered under name
func New(name, id string, p Params) (engine.Strategy, error) {
	mu.RLock()
	c, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy: unknown type %q (known: %v)", name, Known())
	}
	return c(id, p)
}

// Known returns the registered discriminators, sorted
func Known() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("moving_average", func(id string, p Params) (engine.Strategy, error) {
		return NewMovingAverage(id, p.Symbol, p.Short, p.Long)
	})
	Register("breakout", func(id string, p Params) (engine.Strategy, error) {
		return NewBreakout(id, p.Symbol, p.Lookback)
	})
}
