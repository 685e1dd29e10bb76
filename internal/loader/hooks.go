package loader

import "time"

// Hooks provide optional callbacks for persistence / external tracking.
// Implementations should be fast and non-blocking; the loader invokes
// them in goroutines off the state machine's own goroutine.
type Hooks interface {
	// OnStateChange fires on every loader state transition.
	OnStateChange(name string, state State)

	// OnLoadResult fires once per completed load operation (a cache read
	// or a download attempt), successful or not. attempt is 0 for cache
	// reads and 1-based for downloads. errMsg is empty on success.
	OnLoadResult(name, source, outcome string, attempt int, duration time.Duration, errMsg string)
}

// multiHooks fans a hook invocation out to several sinks.
type multiHooks []Hooks

// CombineHooks merges hook sinks into one; nil entries are skipped.
func CombineHooks(hooks ...Hooks) Hooks {
	var out multiHooks
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (m multiHooks) OnStateChange(name string, state State) {
	for _, h := range m {
		h.OnStateChange(name, state)
	}
}

func (m multiHooks) OnLoadResult(name, source, outcome string, attempt int, duration time.Duration, errMsg string) {
	for _, h := range m {
		h.OnLoadResult(name, source, outcome, attempt, duration, errMsg)
	}
}
