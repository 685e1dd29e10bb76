package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"modelfetch/internal/cache"
	"modelfetch/internal/config"
	"modelfetch/internal/fetch"
	"modelfetch/internal/loader"
	"modelfetch/internal/logging"
	"modelfetch/internal/metrics"
	"modelfetch/internal/ranker"
	"modelfetch/internal/server"
	"modelfetch/internal/store"
)

func main() {
	// .env is optional; real environment and flags still win.
	_ = godotenv.Load()

	cfg := config.New()
	cfg.FromEnv()

	flag.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite load journal (default: OS cache dir: modelfetch/modelfetch.db)")
	flag.StringVar(&cfg.ManifestPath, "models", cfg.ManifestPath, "Path to YAML model manifest")
	flag.StringVar(&cfg.ModelName, "model-name", cfg.ModelName, "Model name when running without a manifest")
	flag.StringVar(&cfg.ModelURL, "model-url", cfg.ModelURL, "Model download URL when running without a manifest")
	flag.StringVar(&cfg.ModelCachePath, "model-cache", cfg.ModelCachePath, "Model cache file when running without a manifest")
	flag.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Download attempts before giving up")
	flag.DurationVar(&cfg.InitialBackoff, "initial-backoff", cfg.InitialBackoff, "Wait after the first failed download")
	flag.DurationVar(&cfg.MaxBackoff, "max-backoff", cfg.MaxBackoff, "Ceiling for the download backoff")
	flag.DurationVar(&cfg.MaxModelAge, "max-model-age", cfg.MaxModelAge, "Reject models trained longer ago than this (0 = model's own expiry only)")
	flag.IntVar(&cfg.ModelCacheSize, "model-cache-size", cfg.ModelCacheSize, "Max finished models held in memory")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", cfg.MetricsPrefix, "Namespace prefix for exported metrics")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	flag.Parse()

	logging.Init(logging.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ResolveDBPath(); err != nil {
		log.Fatalf("resolve db path: %v", err)
	}
	if err := cfg.ResolveModelCachePath(); err != nil {
		log.Fatalf("resolve model cache path: %v", err)
	}
	specs, err := cfg.ModelSpecs()
	if err != nil {
		log.Fatalf("model specs: %v", err)
	}

	// Ensure DB directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.AbsDBPath), 0o755); err != nil {
		log.Fatalf("create db dir: %v", err)
	}
	st, err := store.Open(cfg.AbsDBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	// Note: st.Close() is called explicitly during shutdown

	reg, err := loader.NewRegistry(cfg.ModelCacheSize)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}

	sink := metrics.New(cfg.MetricsPrefix, nil)
	fetcher := fetch.New(0, 0)
	files := cache.NewFileStore()
	hooks := loader.CombineHooks(reg, &journalHooks{st: st})

	for _, spec := range specs {
		spec := spec
		if err := reg.Add(spec.Name, spec.URL, spec.CachePath); err != nil {
			log.Fatalf("register %s: %v", spec.Name, err)
		}
		l, err := loader.New(loader.Config{
			Name:      spec.Name,
			CachePath: spec.CachePath,
			SourceURL: spec.URL,
			Validate:  ranker.Validator(spec.MaxAge, nil),
			OnAvailable: func(m *ranker.Model, err error) {
				if err != nil {
					reg.SetFailed(spec.Name, err)
					return
				}
				reg.StoreModel(spec.Name, m)
			},
			Cache:   files,
			Fetcher: fetcher,
			Backoff: loader.Backoff{
				InitialDelay: spec.InitialBackoff,
				MaxDelay:     spec.MaxBackoff,
				Multiplier:   2.0,
				MaxAttempts:  spec.MaxAttempts,
			},
			Metrics: sink,
			Hooks:   hooks,
		})
		if err != nil {
			log.Fatalf("loader %s: %v", spec.Name, err)
		}
		reg.Bind(spec.Name, l)
	}

	mux := server.New(reg, st)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server
	go func() {
		logging.LogServerStart(cfg.Addr, cfg.Summary())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-shutdownCtx.Done()
	logging.LogServerShutdown("shutdown signal received; draining", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.LogServerShutdown("http shutdown", err)
	}
	// Abandon in-flight loads before closing the journal they report to.
	reg.Close()
	if err := st.Close(); err != nil {
		logging.LogServerShutdown("journal close", err)
	}
	logging.LogServerShutdown("shutdown complete", nil)
}

// journalHooks implements loader.Hooks to persist load outcomes.
type journalHooks struct{ st *store.Store }

func (h *journalHooks) OnStateChange(name string, state loader.State) {
	// State transitions are logged, not journaled.
}

func (h *journalHooks) OnLoadResult(name, source, outcome string, attempt int, duration time.Duration, errMsg string) {
	// Best-effort; log on failure but ignore database closure errors during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.st.RecordLoad(ctx, store.LoadRecord{
		Model:        name,
		Source:       source,
		Outcome:      outcome,
		Attempt:      attempt,
		DurationMS:   duration.Milliseconds(),
		ErrorMessage: errMsg,
	})
	if err != nil && !h.isExpectedError(err) {
		log.Printf("db record load model=%s: %v", name, err)
	}
}

// isExpectedError checks if an error is expected during shutdown or context cancellation
func (h *journalHooks) isExpectedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return errStr == "sql: database is closed" ||
		errStr == "context deadline exceeded" ||
		errStr == "context canceled"
}
