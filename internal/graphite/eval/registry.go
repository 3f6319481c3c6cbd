package eval

import (
	"fmt"
	"sync"

	"github.com/moira-alert/moira/internal/moira"
)

// Fn is one function-library entry: it receives the positional and keyword
// argument values already evaluated to moira.Value, and yields a result
// Value (almost always KindSeriesList).
type Fn func(rc *RequestContext, args []moira.Value, kwargs map[string]moira.Value) (moira.Value, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Fn{}

	// bootstrapFns names functions whose first argument must be
	// re-fetched extended back by their window argument (§4.D's
	// "bootstrap fetch"), mapped to the index of that window argument.
	bootstrapFns = map[string]int{
		"movingAverage": 1,
		"movingMedian":  1,
	}
)

// RegisterBootstrapped marks fn as needing its first argument fetched with
// extra lookback equal to the duration named by argument windowArgIndex,
// instead of the eagerly-evaluated Value the rest of the registry receives.
func RegisterBootstrapped(name string, windowArgIndex int) {
	registryMu.Lock()
	defer registryMu.Unlock()
	bootstrapFns[name] = windowArgIndex
}

func bootstrapWindowArgIndex(name string) (int, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	idx, ok := bootstrapFns[name]
	return idx, ok
}

// Register adds name to the function registry. Called from package
// functions' init() — mirrors the database/sql driver-registration pattern
// so the evaluator never has to import the (much larger) function library
// package directly and risk a cycle with it.
func Register(name string, fn Fn) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("eval: function %q already registered", name))
	}
	registry[name] = fn
}

func lookup(name string) (Fn, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}
