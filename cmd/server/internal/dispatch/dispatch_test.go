package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchAll_PreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1, 0}
	out, err := DispatchAll(context.Background(), items, 3, func(ctx context.Context, i int, v int) (string, error) {
		// later items finish first
		time.Sleep(time.Duration(v) * time.Millisecond)
		return fmt.Sprintf("item-%d", i), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-0", "item-1", "item-2", "item-3", "item-4", "item-5"}, out.Results)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, out.Indices)
	assert.Empty(t, out.Failed)
	assert.Empty(t, out.Errors)
}

func TestDispatchAll_PartialFailure(t *testing.T) {
	boom := errors.New("boom")
	out, err := DispatchAll(context.Background(), []string{"a", "b", "c", "d"}, 2, func(ctx context.Context, i int, s string) (string, error) {
		if i == 1 || i == 3 {
			return "", boom
		}
		return s, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, out.Indices)
	assert.Equal(t, []int{1, 3}, out.Failed)
	assert.ErrorIs(t, out.Errors[1], boom)
	assert.Equal(t, "a", out.Results[0])
	assert.Equal(t, "", out.Results[1])
	assert.True(t, out.OK(2))
	assert.False(t, out.OK(3))
	assert.False(t, out.OK(7))
}

func TestDispatchAll_AllFailed(t *testing.T) {
	// 4 个 chunk 全部失败，错误需列出所有索引
	fail := errors.New("asr unavailable")
	out, err := DispatchAll(context.Background(), make([]int, 4), 4, func(ctx context.Context, i int, _ int) (string, error) {
		return "", fail
	})
	require.Error(t, err)
	assert.Nil(t, out)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 4, batchErr.Attempted)
	assert.Equal(t, []int{0, 1, 2, 3}, batchErr.Failed)
	assert.Contains(t, err.Error(), "[0 1 2 3]")
	for i := 0; i < 4; i++ {
		assert.Contains(t, err.Error(), fmt.Sprintf("item %d", i))
	}
	assert.ErrorIs(t, err, fail)
}

func TestDispatchAll_Empty(t *testing.T) {
	out, err := DispatchAll(context.Background(), []int(nil), 0, func(ctx context.Context, i int, v int) (int, error) {
		t.Fatal("worker must not run")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestDispatchAll_RespectsConcurrencyBound(t *testing.T) {
	var inFlight, peak int32
	_, err := DispatchAll(context.Background(), make([]int, 20), 3, func(ctx context.Context, i int, _ int) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return i, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

func TestDispatchAll_DefaultConcurrency(t *testing.T) {
	var inFlight, peak int32
	_, err := DispatchAll(context.Background(), make([]int, 12), 0, func(ctx context.Context, i int, _ int) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return i, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(DefaultMaxConcurrency))
}

func TestDispatchAll_CancelMarksUnstarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started int32
	out, err := DispatchAll(ctx, make([]int, 6), 1, func(ctx context.Context, i int, _ int) (int, error) {
		atomic.AddInt32(&started, 1)
		if i == 1 {
			cancel()
			return 0, ctx.Err()
		}
		return i, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, out.Indices)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, out.Failed)
	for _, i := range out.Failed {
		assert.ErrorIs(t, out.Errors[i], context.Canceled)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&started))
}

func TestDispatchAll_RecoversPanic(t *testing.T) {
	out, err := DispatchAll(context.Background(), []int{0, 1, 2}, 2, func(ctx context.Context, i int, _ int) (int, error) {
		if i == 2 {
			panic("bad segment")
		}
		return i * 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, out.Failed)
	assert.ErrorIs(t, out.Errors[2], ErrWorkerPanic)
	assert.Contains(t, out.Errors[2].Error(), "bad segment")
	assert.Equal(t, []int{0, 10, 0}, out.Results)
}

func TestDispatchAll_WaitsForGate(t *testing.T) {
	gate := NewGate()
	var ran int32
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := DispatchAll(context.Background(), make([]int, 3), 3, func(ctx context.Context, i int, _ int) (int, error) {
			atomic.AddInt32(&ran, 1)
			return i, nil
		}, WithGate(gate), WithComponent("segment"))
		assert.NoError(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))

	gate.Open(nil)
	<-done
	assert.Equal(t, int32(3), atomic.LoadInt32(&ran))
}

func TestDispatchAll_FailedGate(t *testing.T) {
	gate := NewGate()
	gate.Open(errors.New("model not loaded"))

	_, err := DispatchAll(context.Background(), make([]int, 2), 2, func(ctx context.Context, i int, _ int) (int, error) {
		t.Fatal("worker must not run")
		return 0, nil
	}, WithGate(gate))

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.ErrorIs(t, err, ErrGateFailed)
}

func TestGate(t *testing.T) {
	t.Run("打开前阻塞", func(t *testing.T) {
		g := NewGate()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)
		assert.False(t, g.Ready())
	})

	t.Run("只有第一次 Open 生效", func(t *testing.T) {
		g := NewGate()
		g.Open(nil)
		g.Open(errors.New("ignored"))
		assert.NoError(t, g.Wait(context.Background()))
		assert.True(t, g.Ready())
	})

	t.Run("并发等待者全部被释放", func(t *testing.T) {
		g := NewGate()
		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = g.Wait(context.Background())
			}(i)
		}
		g.Open(nil)
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}
	})
}
