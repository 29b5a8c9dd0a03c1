// Package sink holds the registry of market-data sink drivers. Drivers live
// in sub-packages and register themselves from init().
package sink

import (
	"fmt"
	"sort"
	"sync"

	"tickflow/internal/marketdata"
	"tickflow/internal/pipeline"
)

// Sink is what every driver produces.
type Sink = pipeline.Sink[marketdata.Event]

// Batch is the unit a Sink writes.
type Batch = pipeline.Batch[marketdata.Event]

type Factory func(configPath string) (Sink, error)

var (
	mu  sync.RWMutex
	reg = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = f
}

// New returns a configured driver by name ("postgres", "kafka", "s3", "stdout").
func New(name, configPath string) (Sink, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink: unknown driver %q (have %v)", name, Drivers())
	}
	return f(configPath)
}

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
