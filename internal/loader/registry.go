package loader

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"modelfetch/internal/ranker"
)

// Entry is the externally visible status of one managed model.
type Entry struct {
	Name      string    `json:"name"`
	SourceURL string    `json:"source_url,omitempty"`
	CachePath string    `json:"cache_path,omitempty"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Available bool      `json:"available"`
	Error     string    `json:"error,omitempty"`
	NextRetry time.Time `json:"next_retry,omitempty"`

	createdAt time.Time
	updatedAt time.Time
}

// Registry tracks named loaders and parks their finished models in a
// bounded LRU so the serving path can hold many models without
// unbounded memory growth. It is a state container; the loaders own all
// loading logic.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	loaders map[string]*Loader

	models *lru.Cache[string, *ranker.Model]
}

// NewRegistry creates a Registry able to keep up to modelCap validated
// models in memory.
func NewRegistry(modelCap int) (*Registry, error) {
	if modelCap <= 0 {
		modelCap = 16
	}
	models, err := lru.New[string, *ranker.Model](modelCap)
	if err != nil {
		return nil, fmt.Errorf("model cache: %w", err)
	}
	return &Registry{
		entries: make(map[string]*Entry),
		loaders: make(map[string]*Loader),
		models:  models,
	}, nil
}

// Add creates the entry for a model. Call before constructing its
// loader so no transition is missed. Returns an error on duplicates.
func (r *Registry) Add(name, sourceURL, cachePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("model %q already registered", name)
	}
	now := time.Now()
	r.entries[name] = &Entry{
		Name:      name,
		SourceURL: sourceURL,
		CachePath: cachePath,
		State:     StateNotStarted,
		createdAt: now,
		updatedAt: now,
	}
	return nil
}

// Bind attaches the constructed loader to its entry so activity signals
// and Close reach it.
func (r *Registry) Bind(name string, l *Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		r.loaders[name] = l
	}
}

// OnStateChange implements Hooks; it mirrors loader transitions into the
// registry entry.
func (r *Registry) OnStateChange(name string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.State = state
	e.updatedAt = time.Now()
	if l := r.loaders[name]; l != nil {
		e.Attempts = l.Attempts()
		e.NextRetry = l.NextEarliestDownload()
	}
}

// OnLoadResult implements Hooks; failures surface in the entry's Error
// field for status endpoints.
func (r *Registry) OnLoadResult(name, source, outcome string, attempt int, duration time.Duration, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	if errMsg != "" {
		e.Error = errMsg
	} else if outcome == OutcomeSuccess {
		e.Error = ""
	}
	e.updatedAt = time.Now()
}

// StoreModel parks a finished model for serving and marks the entry
// available. Wired into each loader's completion callback.
func (r *Registry) StoreModel(name string, m *ranker.Model) {
	r.models.Add(name, m)

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.Available = true
		e.Error = ""
		e.updatedAt = time.Now()
	}
}

// SetFailed records the terminal failure for an entry. Wired into each
// loader's completion callback.
func (r *Registry) SetFailed(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.Available = false
		if err != nil {
			e.Error = err.Error()
		}
		e.updatedAt = time.Now()
	}
}

// Model returns the parked model for name, if its loader finished with
// success and the model has not been evicted.
func (r *Registry) Model(name string) (*ranker.Model, bool) {
	return r.models.Get(name)
}

// NotifyActivity forwards an activity signal to the named loader.
func (r *Registry) NotifyActivity(name string) error {
	r.mu.RLock()
	_, known := r.entries[name]
	l := r.loaders[name]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("model %q not registered", name)
	}
	if l != nil {
		// A not-yet-bound loader is mid-construction; its initial load
		// covers the signal.
		l.NotifyActivity()
	}
	return nil
}

// NotifyAll signals every registered loader and returns how many were
// signaled.
func (r *Registry) NotifyAll() int {
	r.mu.RLock()
	loaders := make([]*Loader, 0, len(r.loaders))
	for _, l := range r.loaders {
		loaders = append(loaders, l)
	}
	r.mu.RUnlock()

	for _, l := range loaders {
		l.NotifyActivity()
	}
	return len(loaders)
}

// Snapshot returns a copy of the current entries. If name is non-empty,
// returns at most that entry.
func (r *Registry) Snapshot(name string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		if e, ok := r.entries[name]; ok {
			cp := *e
			return []*Entry{&cp}
		}
		return []*Entry{}
	}
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// Size returns the number of registered models.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close shuts every loader down; safe to call multiple times.
func (r *Registry) Close() {
	r.mu.RLock()
	loaders := make([]*Loader, 0, len(r.loaders))
	for _, l := range r.loaders {
		loaders = append(loaders, l)
	}
	r.mu.RUnlock()

	for _, l := range loaders {
		l.Close()
	}
}
