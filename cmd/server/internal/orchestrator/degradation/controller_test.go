package degradation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/scribeflow/cmd/server/internal/orchestrator/health"
)

type fakeTranscriber struct {
	name    string
	mu      sync.RWMutex
	healthy bool
}

func (m *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return "transcribed by " + m.name, nil
}

func (m *fakeTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy, nil
}

func (m *fakeTranscriber) Name() string { return m.name }

func (m *fakeTranscriber) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

func TestController(t *testing.T) {
	t.Run("initial state uses primary transcriber", func(t *testing.T) {
		primary := &fakeTranscriber{name: "primary", healthy: true}
		fallback := &fakeTranscriber{name: "fallback", healthy: true}
		c := NewController(primary, fallback, health.NewChecker(primary, time.Hour, 3, nil), nil)

		assert.Equal(t, "primary", c.Current().Name())
		assert.False(t, c.IsDegraded())
	})

	t.Run("degrades and recovers with health", func(t *testing.T) {
		primary := &fakeTranscriber{name: "primary", healthy: false}
		fallback := &fakeTranscriber{name: "fallback", healthy: true}
		hc := health.NewChecker(primary, time.Hour, 1, nil)
		c := NewController(primary, fallback, hc, nil)
		ctx := context.Background()

		hc.CheckNow(ctx)
		text, err := c.Transcribe(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "transcribed by fallback", text)
		assert.True(t, c.IsDegraded())

		primary.SetHealthy(true)
		hc.CheckNow(ctx)
		text, err = c.Transcribe(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "transcribed by primary", text)
		assert.False(t, c.IsDegraded())
	})

	t.Run("forced fallback holds until the primary probes healthy", func(t *testing.T) {
		primary := &fakeTranscriber{name: "primary", healthy: false}
		fallback := &fakeTranscriber{name: "fallback", healthy: true}
		hc := health.NewChecker(primary, time.Hour, 3, nil)
		c := NewController(primary, fallback, hc, nil)
		ctx := context.Background()

		status := hc.CheckNow(ctx)
		require.True(t, status.IsHealthy, "one failure is below the threshold")
		c.ForceFallback(status.ErrorMessage)

		text, err := c.Transcribe(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "transcribed by fallback", text)
		assert.True(t, c.IsDegraded())

		primary.SetHealthy(true)
		hc.CheckNow(ctx)
		assert.Equal(t, "primary", c.Current().Name())
		assert.False(t, c.IsDegraded())
	})

	t.Run("multiple cycles with background checker", func(t *testing.T) {
		primary := &fakeTranscriber{name: "primary", healthy: true}
		fallback := &fakeTranscriber{name: "fallback", healthy: true}
		hc := health.NewChecker(primary, 5*time.Millisecond, 1, nil)
		c := NewController(primary, fallback, hc, nil)

		go hc.Start(context.Background())
		defer hc.Stop()

		for cycle := 0; cycle < 2; cycle++ {
			primary.SetHealthy(false)
			assert.Eventually(t, func() bool { return c.Current().Name() == "fallback" }, time.Second, 5*time.Millisecond, "cycle %d: should degrade", cycle)

			primary.SetHealthy(true)
			assert.Eventually(t, func() bool { return c.Current().Name() == "primary" }, time.Second, 5*time.Millisecond, "cycle %d: should recover", cycle)
		}
	})
}
