package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink implements the loader's metrics interface on Prometheus. All
// metric names live under the caller-supplied namespace so multiple
// embedders can keep their series apart.
type Sink struct {
	loadDuration *prometheus.HistogramVec
	outcomes     *prometheus.CounterVec
	attempts     *prometheus.GaugeVec
}

// New registers the loader metrics on reg (nil means the default
// registerer) under the given namespace.
func New(namespace string, reg prometheus.Registerer) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := Sanitize(namespace)
	factory := promauto.With(reg)

	return &Sink{
		loadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "model_loader",
			Name:      "load_duration_seconds",
			Help:      "Duration of model load operations by source and outcome",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"model", "source", "outcome"}),

		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "model_loader",
			Name:      "loads_total",
			Help:      "Total model load operations by source and outcome",
		}, []string{"model", "source", "outcome"}),

		attempts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "model_loader",
			Name:      "download_attempts",
			Help:      "Download attempts started per model",
		}, []string{"model"}),
	}
}

// ObserveLoad records one completed load operation.
func (s *Sink) ObserveLoad(model, source, outcome string, duration time.Duration) {
	s.loadDuration.WithLabelValues(model, source, outcome).Observe(duration.Seconds())
	s.outcomes.WithLabelValues(model, source, outcome).Inc()
}

// SetAttempts records the number of download attempts started so far.
func (s *Sink) SetAttempts(model string, attempts int) {
	s.attempts.WithLabelValues(model).Set(float64(attempts))
}

// Sanitize maps an arbitrary label prefix onto a legal Prometheus
// namespace: lowercase, [a-z0-9_], never starting with a digit.
func Sanitize(prefix string) string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return "modelfetch"
	}
	var b strings.Builder
	for i, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
