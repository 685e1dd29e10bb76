package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"":            "modelfetch",
		"  ":          "modelfetch",
		"modelfetch":  "modelfetch",
		"Model-Fetch": "model_fetch",
		"my svc":      "my_svc",
		"9lives":      "_9lives",
		"a.b/c":       "a_b_c",
	}
	for in, want := range cases {
		require.Equal(t, want, Sanitize(in), "Sanitize(%q)", in)
	}
}

func TestSink_ObserveLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New("testns", reg)

	s.ObserveLoad("ranker", "network", "failure", 120*time.Millisecond)
	s.ObserveLoad("ranker", "network", "failure", 80*time.Millisecond)
	s.ObserveLoad("ranker", "cache", "success", time.Millisecond)

	got := testutil.ToFloat64(s.outcomes.WithLabelValues("ranker", "network", "failure"))
	require.Equal(t, 2.0, got)
	got = testutil.ToFloat64(s.outcomes.WithLabelValues("ranker", "cache", "success"))
	require.Equal(t, 1.0, got)

	n := testutil.CollectAndCount(s.loadDuration, "testns_model_loader_load_duration_seconds")
	require.Equal(t, 2, n, "expected one histogram series per label set")
}

func TestSink_SetAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New("testns", reg)

	s.SetAttempts("ranker", 1)
	s.SetAttempts("ranker", 3)

	got := testutil.ToFloat64(s.attempts.WithLabelValues("ranker"))
	require.Equal(t, 3.0, got)
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Two sinks with the same namespace must not collide as long as they
	// use distinct registries.
	a := New("dup", prometheus.NewRegistry())
	b := New("dup", prometheus.NewRegistry())
	require.NotNil(t, a)
	require.NotNil(t, b)
}
