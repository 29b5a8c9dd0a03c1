// Package source holds the registry of market-data source drivers. Drivers
// live in sub-packages and register themselves from init().
package source

import (
	"fmt"
	"sort"
	"sync"

	"tickflow/internal/marketdata"
	"tickflow/internal/pipeline"
)

// Source is what every driver produces.
type Source = pipeline.Source[marketdata.Event]

// Factory builds a driver from its connector config file. An empty path
// means env-only configuration.
type Factory func(configPath string) (Source, error)

var (
	mu  sync.RWMutex
	reg = map[string]Factory{}
)

// Register is called from each driver's init().
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = f
}

// New returns a configured driver by name ("alpaca", "kafka", "polymarket", "synthetic").
func New(name, configPath string) (Source, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source: unsupported driver %q (have %v)", name, Drivers())
	}
	return f(configPath)
}

// Drivers lists registered driver names.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for name := range reg {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
