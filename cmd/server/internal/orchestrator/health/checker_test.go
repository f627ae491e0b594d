package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type probeTranscriber struct {
	mu      sync.Mutex
	healthy bool
	err     error
}

func (p *probeTranscriber) Transcribe(context.Context, []byte) (string, error) { return "", nil }

func (p *probeTranscriber) HealthCheck(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy, p.err
}

func (p *probeTranscriber) Name() string { return "probe" }

func (p *probeTranscriber) set(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy, p.err = healthy, err
}

func TestChecker_InitialStateIsHealthy(t *testing.T) {
	c := NewChecker(&probeTranscriber{}, time.Hour, 3, nil)

	status := c.Status()
	assert.True(t, status.IsHealthy)
	assert.Equal(t, 0, status.ConsecutiveFails)
	assert.Equal(t, "probe", status.Name)
}

func TestChecker_ThresholdAndRecovery(t *testing.T) {
	probe := &probeTranscriber{}
	probe.set(false, errors.New("connection refused"))
	c := NewChecker(probe, time.Hour, 3, nil)
	ctx := context.Background()

	c.CheckNow(ctx)
	st := c.CheckNow(ctx)
	assert.True(t, st.IsHealthy, "below threshold stays healthy")
	assert.Equal(t, 2, st.ConsecutiveFails)
	assert.Equal(t, "connection refused", st.ErrorMessage)

	st = c.CheckNow(ctx)
	assert.False(t, st.IsHealthy)
	assert.Equal(t, 3, st.ConsecutiveFails)

	probe.set(true, nil)
	st = c.CheckNow(ctx)
	assert.True(t, st.IsHealthy)
	assert.Equal(t, 0, st.ConsecutiveFails)
	assert.Empty(t, st.ErrorMessage)
}

func TestChecker_StartAndStop(t *testing.T) {
	probe := &probeTranscriber{}
	c := NewChecker(probe, 5*time.Millisecond, 1, nil)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return !c.Status().IsHealthy }, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
