package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/coreerr"
)

func TestBreaker_AllowsCallsWhileClosed(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 3})
	out, err := Do(context.Background(), b, "op", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 2, OpenDurationMs: 60_000})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := Do(context.Background(), b, "op", func(ctx context.Context) (int, error) {
			return 0, boom
		})
		require.Error(t, err)
	}

	_, err := Do(context.Background(), b, "op", func(ctx context.Context) (int, error) {
		t.Fatal("fn must not run while breaker is open")
		return 0, nil
	})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.CircuitOpen))
	assert.Equal(t, "open", b.State())
}

func TestBreaker_PropagatesNonBreakerErrors(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 5})
	want := errors.New("underlying failure")
	_, err := Do(context.Background(), b, "op", func(ctx context.Context) (int, error) {
		return 0, want
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, want)
	assert.False(t, coreerr.Is(err, coreerr.CircuitOpen))
}
