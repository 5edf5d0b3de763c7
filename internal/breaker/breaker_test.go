package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attune/internal/config"
)

func testRegistry(t *testing.T) (*Registry, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := &now
	reg := NewRegistry(config.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		CallTimeout:      time.Second,
	}, zap.NewNop())
	reg.SetClock(func() time.Time { return *current })
	return reg, current
}

var errBoom = errors.New("boom")

func failingCall(context.Context) (string, error) { return "", errBoom }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := Do(reg, ctx, "fast-classifier", failingCall)
		require.ErrorIs(t, err, errBoom)
	}

	snap := reg.Snapshot("fast-classifier")
	assert.Equal(t, StateOpen, snap.State)

	// Fourth call inside the cooldown window: immediate fallback, no attempt.
	called := false
	_, err := Do(reg, ctx, "fast-classifier", func(context.Context) (string, error) {
		called = true
		return "", nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open breaker must not invoke the call")

	snap = reg.Snapshot("fast-classifier")
	assert.Equal(t, uint64(1), snap.Skipped, "skipped-call metric should be recorded")
}

func TestBreakerProbesAfterCooldownAndCloses(t *testing.T) {
	reg, now := testRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Do(reg, ctx, "vector-search", failingCall)
	}
	require.Equal(t, StateOpen, reg.Snapshot("vector-search").State)

	*now = now.Add(31 * time.Second)

	out, err := Do(reg, ctx, "vector-search", func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, StateClosed, reg.Snapshot("vector-search").State)
}

func TestFailedProbeReopensForFullCooldown(t *testing.T) {
	reg, now := testRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Do(reg, ctx, "dep", failingCall)
	}
	*now = now.Add(31 * time.Second)

	_, err := Do(reg, ctx, "dep", failingCall)
	require.ErrorIs(t, err, errBoom)

	snap := reg.Snapshot("dep")
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, now.Add(30*time.Second), snap.CooldownUntil)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	_, _ = Do(reg, ctx, "dep", failingCall)
	_, _ = Do(reg, ctx, "dep", failingCall)
	_, err := Do(reg, ctx, "dep", func(context.Context) (string, error) { return "fine", nil })
	require.NoError(t, err)

	snap := reg.Snapshot("dep")
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)

	// Two more failures still should not open the breaker.
	_, _ = Do(reg, ctx, "dep", failingCall)
	_, _ = Do(reg, ctx, "dep", failingCall)
	assert.Equal(t, StateClosed, reg.Snapshot("dep").State)
}

func TestBreakersAreIndependentPerDependency(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Do(reg, ctx, "flaky", failingCall)
	}

	assert.Equal(t, StateOpen, reg.Snapshot("flaky").State)
	assert.Equal(t, StateClosed, reg.Snapshot("healthy").State)

	out, err := Do(reg, ctx, "healthy", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
