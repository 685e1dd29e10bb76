package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelfetch/internal/loader"
	"modelfetch/internal/logging"
	"modelfetch/internal/ranker"
	"modelfetch/internal/store"
)

// Minimal interfaces to abstract the registry and journal; nil store
// disables DB-backed history.
type modelRegistry interface {
	Snapshot(name string) []*loader.Entry
	NotifyActivity(name string) error
	NotifyAll() int
	Model(name string) (*ranker.Model, bool)
}

type rateLimiter interface {
	Allow(key string) bool
}

// New returns an http.Handler with routes and middleware wired.
func New(reg modelRegistry, st *store.Store) http.Handler {
	rl := newIPRateLimiter(60, time.Minute) // 60 req/min/IP
	mux := http.NewServeMux()

	// Routes
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	mux.HandleFunc("/api/status", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		name := r.URL.Query().Get("name")
		entries := reg.Snapshot(name)
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "models": entries})
	}))

	mux.HandleFunc("/api/activity", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		// An empty body is fine: no name means "signal everything".
		if r.Body != nil {
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && err != io.EOF {
				writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
				return
			}
		}
		if req.Name == "" {
			n := reg.NotifyAll()
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "signaled", "models": n})
			return
		}
		if err := reg.NotifyActivity(req.Name); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "unknown_model"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "signaled", "models": 1})
	}))

	mux.HandleFunc("/api/rank", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Name     string             `json:"name"`
			Features map[string]float64 `json:"features"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || req.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
			return
		}
		m, ok := reg.Model(req.Name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "model_not_available"})
			return
		}
		score := m.Score(req.Features)
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "model": req.Name, "score": score})
	}))

	// Optional DB-backed load history; only registered if a journal is
	// provided via main.
	if st != nil {
		mux.HandleFunc("/api/history", with(rl, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			q := r.URL.Query()
			limit := 0
			if lim := q.Get("limit"); lim != "" {
				// ignore conversion errors silently, relying on defaults
				limit, _ = strconv.Atoi(lim)
			}
			records, err := st.RecentLoads(r.Context(), q.Get("model"), limit)
			if err != nil {
				logging.LogDBOperation("recent_loads", 0, err)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "loads": records})
		}))
	}

	mux.Handle("/metrics", promhttp.Handler())

	return recoverer(requestLogger(mux))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"status": "error", "message": "method_not_allowed"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Middleware

func with(rl rateLimiter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "error", "message": "rate_limited"})
			return
		}
		h(w, r)
	}
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// Skip noisy scrape endpoint
		if r.URL.Path == "/metrics" {
			return
		}
		logging.LogHTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, time.Since(start), rec.status)
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logging.LogPanic(v)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// Respect common proxy headers, then fall back to RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
