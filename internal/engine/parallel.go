package engine

import (
	"sync"

	"backsim/internal/config"
	"backsim/internal/market"
	"backsim/internal/strategy"
)

// RunSpec is one independent replay: its own configuration plus its own
// bar and signal streams.
type RunSpec struct {
	Name    string
	Config  config.Config
	Bars    []market.Bar
	Signals []market.Signal
}

// RunMany replays several independent specs concurrently and returns
// results keyed by spec name. Every run constructs its own Engine and
// broker, so runs share no mutable state and each produces the same
// result it would have produced alone.
func RunMany(registry *strategy.Registry, specs []RunSpec, workers int) map[string]*Result {
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan RunSpec)
	results := make(map[string]*Result, len(specs))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for spec := range jobs {
				res := New(spec.Config, registry).Run(spec.Bars, spec.Signals)
				mu.Lock()
				results[spec.Name] = res
				mu.Unlock()
			}
		}()
	}

	for _, spec := range specs {
		jobs <- spec
	}
	close(jobs)
	wg.Wait()

	return results
}
