package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_DelayGrowth(t *testing.T) {
	b := Backoff{
		InitialDelay: time.Minute,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
		MaxAttempts:  10,
	}

	require.Equal(t, time.Minute, b.Delay(1))
	require.Equal(t, 2*time.Minute, b.Delay(2))
	require.Equal(t, 4*time.Minute, b.Delay(3))
	require.Equal(t, 32*time.Minute, b.Delay(6))

	// Growth stops at the cap.
	require.Equal(t, time.Hour, b.Delay(7))
	require.Equal(t, time.Hour, b.Delay(20))
}

func TestBackoff_ConstantWhenMultiplierBelowOne(t *testing.T) {
	b := Backoff{InitialDelay: 30 * time.Second, Multiplier: 0.5}
	require.Equal(t, 30*time.Second, b.Delay(1))
	require.Equal(t, 30*time.Second, b.Delay(5))
}

func TestBackoff_ZeroValueFallsBackToDefaults(t *testing.T) {
	var b Backoff
	require.Equal(t, time.Minute, b.Delay(1))
	require.False(t, b.Exhausted(1))
	require.True(t, b.Exhausted(DefaultBackoff().MaxAttempts))
}

func TestBackoff_NextAllowed(t *testing.T) {
	b := Backoff{InitialDelay: time.Minute, MaxDelay: time.Hour, Multiplier: 2.0}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, now.Add(time.Minute), b.NextAllowed(1, now))
	require.Equal(t, now.Add(2*time.Minute), b.NextAllowed(2, now))
}

func TestBackoff_Exhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	require.False(t, b.Exhausted(0))
	require.False(t, b.Exhausted(2))
	require.True(t, b.Exhausted(3))
	require.True(t, b.Exhausted(4))
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	require.Equal(t, time.Minute, b.InitialDelay)
	require.Equal(t, time.Hour, b.MaxDelay)
	require.Equal(t, 2.0, b.Multiplier)
	require.Equal(t, 2, b.MaxAttempts)
}
