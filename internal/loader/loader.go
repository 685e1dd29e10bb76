package loader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"modelfetch/internal/logging"
	"modelfetch/internal/ranker"
)

// State tracks a loader's progress through its lifecycle.
type State string

const (
	// StateNotStarted: freshly constructed, first load not yet dispatched.
	StateNotStarted State = "not_started"
	// StateLoadingCache: a background cache read is in flight.
	StateLoadingCache State = "loading_from_cache"
	// StateIdle: no load in flight; a download may start on activity.
	StateIdle State = "idle"
	// StateLoadingNetwork: a background download is in flight.
	StateLoadingNetwork State = "loading_from_network"
	// StateFinished: terminal; the completion callback has fired.
	StateFinished State = "finished"
)

// Load sources and outcomes as recorded by hooks and metrics.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"

	OutcomeSuccess = "success"
	OutcomeMiss    = "miss"
	OutcomeInvalid = "invalid"
	OutcomeFailure = "failure"
)

// ValidateFunc turns raw payload bytes into a typed model or rejects
// them. It may be invoked from any goroutine and must be safe for
// concurrent use.
type ValidateFunc func(data []byte) (*ranker.Model, error)

// OnAvailableFunc receives the final result exactly once, on the
// loader's own goroutine. Either model is non-nil and err is nil, or
// model is nil and err describes why no model is available.
type OnAvailableFunc func(model *ranker.Model, err error)

// CacheStore reads and writes the locally cached payload. Both methods
// are called from background goroutines.
type CacheStore interface {
	Read(location string) ([]byte, error)
	Write(location string, data []byte) error
}

// Fetcher downloads the payload from a source URL. Called from a
// background goroutine; the context is canceled when the loader closes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Metrics is an optional fire-and-forget sink for load telemetry.
// A nil sink changes no behavior.
type Metrics interface {
	ObserveLoad(model, source, outcome string, duration time.Duration)
	SetAttempts(model string, attempts int)
}

// Config assembles a Loader. Name is required and doubles as the label
// under which hooks and metrics report. At most one of CachePath /
// SourceURL may be empty; when both are, the loader finishes
// immediately reporting ErrNoSources without touching disk or network.
type Config struct {
	Name      string
	CachePath string
	SourceURL string

	Validate    ValidateFunc
	OnAvailable OnAvailableFunc

	Cache   CacheStore // required when CachePath is set
	Fetcher Fetcher    // required when SourceURL is set

	Backoff Backoff
	Metrics Metrics // optional
	Hooks   Hooks   // optional

	// Now overrides the clock; nil means time.Now. Used by tests to
	// drive backoff gating without sleeping.
	Now func() time.Time
}

type eventKind int

const (
	evActivity eventKind = iota
	evCacheResult
	evFetchResult
	evBarrier
)

type event struct {
	kind eventKind
	data []byte
	err  error
	ack  chan struct{}
}

// Loader drives a single model through cache-load, activity-gated
// download retries, and exactly-once completion delivery.
//
// All state transitions happen on the loader's own goroutine (started
// by New); cache reads and downloads run in background goroutines and
// hand their results back over a channel. The completion callback fires
// from the loader goroutine, never from inside a public method call.
type Loader struct {
	cfg     Config
	now     func() time.Time
	backoff Backoff

	ctx    context.Context
	cancel context.CancelFunc

	events   chan event
	quit     chan struct{}
	done     chan struct{} // loop exited
	finished chan struct{} // reached StateFinished

	closeOnce sync.Once

	// Observable mirrors of loop-owned fields; written only by the loop.
	mu           sync.RWMutex
	state        State
	attempts     int
	nextEarliest time.Time
	lastErr      string

	// Loop-owned; no lock needed.
	loadStart time.Time
	delivered bool
}

// New constructs a Loader and starts its first load. The returned
// loader is live immediately; callers that never want the model anymore
// must Close it to suppress the completion callback.
func New(cfg Config) (*Loader, error) {
	if cfg.Name == "" {
		return nil, errors.New("loader: name required")
	}
	if cfg.Validate == nil {
		return nil, errors.New("loader: validate hook required")
	}
	if cfg.OnAvailable == nil {
		return nil, errors.New("loader: completion callback required")
	}
	if cfg.CachePath != "" && cfg.Cache == nil {
		return nil, errors.New("loader: cache store required when cache path is set")
	}
	if cfg.SourceURL != "" && !validSourceURL(cfg.SourceURL) {
		// An unusable URL is the same as no URL at all.
		logging.LogModelLoadError(cfg.Name, SourceNetwork, fmt.Errorf("invalid source url %q", logging.RedactURL(cfg.SourceURL)))
		cfg.SourceURL = ""
	}
	if cfg.SourceURL != "" && cfg.Fetcher == nil {
		return nil, errors.New("loader: fetcher required when source url is set")
	}

	bo := cfg.Backoff
	if bo == (Backoff{}) {
		bo = DefaultBackoff()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		cfg:      cfg,
		now:      now,
		backoff:  bo,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, 4),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		state:    StateNotStarted,
	}
	go l.run()
	return l, nil
}

// NotifyActivity tells the loader the ranked feature is in use, a proxy
// for "the network is probably available now". Safe to call from any
// goroutine, any number of times, in any state. Only an idle loader
// with a source URL, elapsed backoff, and attempts remaining reacts.
func (l *Loader) NotifyActivity() {
	select {
	case l.events <- event{kind: evActivity}:
	default:
		// A signal is already queued; coalescing is fine, the loop
		// re-checks all gates when it gets there.
	}
}

// Close abandons any in-flight background work and suppresses the
// completion callback if it has not fired yet. Idempotent. After Close
// returns, the callback will never fire.
func (l *Loader) Close() {
	l.closeOnce.Do(func() {
		// quit first: any result a canceled fetch posts afterwards is
		// dropped rather than delivered.
		close(l.quit)
		l.cancel()
	})
	<-l.done
}

// Finished is closed once the loader reaches StateFinished and the
// completion callback has been delivered.
func (l *Loader) Finished() <-chan struct{} {
	return l.finished
}

// State returns the current lifecycle state.
func (l *Loader) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Attempts returns how many download attempts have started.
func (l *Loader) Attempts() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.attempts
}

// NextEarliestDownload returns the backoff gate; zero until a download
// has failed.
func (l *Loader) NextEarliestDownload() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextEarliest
}

// LastError returns the most recent recoverable failure message, for
// status surfaces. Empty until something has failed.
func (l *Loader) LastError() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

// run is the owner goroutine: it performs the initial dispatch and then
// serves events until Close.
func (l *Loader) run() {
	defer close(l.done)
	l.start()
	for {
		select {
		case <-l.quit:
			return
		default:
		}
		select {
		case <-l.quit:
			return
		case ev := <-l.events:
			l.handle(ev)
		}
	}
}

func (l *Loader) start() {
	switch {
	case l.cfg.CachePath != "":
		l.setState(StateLoadingCache)
		l.loadStart = l.now()
		logging.LogModelLoadStart(l.cfg.Name, SourceCache)
		go l.readCache()
	case l.cfg.SourceURL != "":
		l.beginFetch()
	default:
		l.finish(nil, ErrNoSources)
	}
}

func (l *Loader) handle(ev event) {
	switch ev.kind {
	case evActivity:
		l.onActivity()
	case evCacheResult:
		l.onCacheResult(ev.data, ev.err)
	case evFetchResult:
		l.onFetchResult(ev.data, ev.err)
	case evBarrier:
		if ev.ack != nil {
			close(ev.ack)
		}
	}
}

// readCache runs in a background goroutine.
func (l *Loader) readCache() {
	data, err := l.cfg.Cache.Read(l.cfg.CachePath)
	l.post(event{kind: evCacheResult, data: data, err: err})
}

// fetchURL runs in a background goroutine.
func (l *Loader) fetchURL() {
	data, err := l.cfg.Fetcher.Fetch(l.ctx, l.cfg.SourceURL)
	l.post(event{kind: evFetchResult, data: data, err: err})
}

// post hands a background result to the loop; if the loader closed
// first, the result is dropped silently.
func (l *Loader) post(ev event) {
	select {
	case l.events <- ev:
	case <-l.quit:
	}
}

func (l *Loader) onActivity() {
	if l.State() != StateIdle {
		return
	}
	if l.cfg.SourceURL == "" {
		return
	}
	if l.backoff.Exhausted(l.Attempts()) {
		return
	}
	if l.now().Before(l.NextEarliestDownload()) {
		return
	}
	l.beginFetch()
}

func (l *Loader) beginFetch() {
	l.mu.Lock()
	l.attempts++
	attempts := l.attempts
	l.mu.Unlock()

	l.setState(StateLoadingNetwork)
	l.loadStart = l.now()
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SetAttempts(l.cfg.Name, attempts)
	}
	logging.LogModelLoadStart(l.cfg.Name, SourceNetwork)
	go l.fetchURL()
}

func (l *Loader) onCacheResult(data []byte, err error) {
	dur := l.now().Sub(l.loadStart)

	if err == nil {
		model, verr := l.cfg.Validate(data)
		if verr == nil {
			l.report(SourceCache, OutcomeSuccess, 0, dur, nil)
			l.finish(model, nil)
			return
		}
		err = verr
		l.report(SourceCache, OutcomeInvalid, 0, dur, err)
	} else {
		l.report(SourceCache, OutcomeMiss, 0, dur, err)
	}

	// Cache misses and invalid payloads are handled identically: fall
	// through to the network path, or finish if there is none. The cache
	// is never re-read.
	l.setRecoverable(err)
	if l.cfg.SourceURL == "" {
		l.finish(nil, fmt.Errorf("%w: %v", ErrUnavailable, err))
		return
	}
	l.setState(StateIdle)
	// The first download is never gated on backoff.
	l.beginFetch()
}

func (l *Loader) onFetchResult(data []byte, err error) {
	dur := l.now().Sub(l.loadStart)
	attempt := l.Attempts()

	if err == nil {
		model, verr := l.cfg.Validate(data)
		if verr == nil {
			l.report(SourceNetwork, OutcomeSuccess, attempt, dur, nil)
			l.persist(data)
			l.finish(model, nil)
			return
		}
		err = verr
		l.report(SourceNetwork, OutcomeInvalid, attempt, dur, err)
	} else {
		l.report(SourceNetwork, OutcomeFailure, attempt, dur, err)
	}

	// A rejected payload costs an attempt exactly like a failed fetch.
	l.setRecoverable(err)
	next := l.backoff.NextAllowed(attempt, l.now())
	l.mu.Lock()
	if next.After(l.nextEarliest) {
		l.nextEarliest = next
	}
	l.mu.Unlock()

	if l.backoff.Exhausted(attempt) {
		l.finish(nil, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, attempt, err))
		return
	}
	l.setState(StateIdle)
}

// persist writes freshly downloaded bytes back to the cache, best
// effort, off the loader goroutine.
func (l *Loader) persist(data []byte) {
	if l.cfg.CachePath == "" || l.cfg.Cache == nil {
		return
	}
	name, path := l.cfg.Name, l.cfg.CachePath
	store := l.cfg.Cache
	go func() {
		if err := store.Write(path, data); err != nil {
			logging.LogCacheWriteError(name, err)
		}
	}()
}

func (l *Loader) finish(model *ranker.Model, err error) {
	l.setState(StateFinished)
	if err != nil {
		l.setRecoverable(err)
	}
	select {
	case <-l.quit:
		// Closing; the caller no longer wants the result.
	default:
		if !l.delivered {
			l.delivered = true
			l.cfg.OnAvailable(model, err)
		}
	}
	close(l.finished)
}

func (l *Loader) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	logging.LogModelStateChange(l.cfg.Name, string(s))
	if l.cfg.Hooks != nil {
		name := l.cfg.Name
		go l.cfg.Hooks.OnStateChange(name, s)
	}
}

func (l *Loader) setRecoverable(err error) {
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
}

func (l *Loader) report(source, outcome string, attempt int, dur time.Duration, err error) {
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ObserveLoad(l.cfg.Name, source, outcome, dur)
	}
	var msg string
	if err != nil {
		msg = err.Error()
		logging.LogModelLoadError(l.cfg.Name, source, err)
	} else {
		logging.LogModelLoadComplete(l.cfg.Name, source, dur)
	}
	if l.cfg.Hooks != nil {
		name := l.cfg.Name
		go l.cfg.Hooks.OnLoadResult(name, source, outcome, attempt, dur, msg)
	}
}

// await blocks until all events posted before it have been handled.
// Test helper; keeps assertions about "nothing happened" deterministic.
func (l *Loader) await() {
	ack := make(chan struct{})
	select {
	case l.events <- event{kind: evBarrier, ack: ack}:
	case <-l.quit:
		return
	}
	select {
	case <-ack:
	case <-l.done:
	}
}

func validSourceURL(raw string) bool {
	if raw == "" || len(raw) > 2048 {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}
