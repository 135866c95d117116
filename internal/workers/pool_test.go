package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vulture/pkg/errors"
)

type mockWorker struct {
	*BaseWorker
	runCount int32
	runFunc  func(ctx context.Context) error
}

func newMockWorker(name string, interval time.Duration, enabled bool) *mockWorker {
	return &mockWorker{
		BaseWorker: NewBaseWorker(name, interval, enabled),
	}
}

func (m *mockWorker) Run(ctx context.Context) error {
	atomic.AddInt32(&m.runCount, 1)
	if m.runFunc != nil {
		return m.runFunc(ctx)
	}
	return nil
}

func (m *mockWorker) GetRunCount() int {
	return int(atomic.LoadInt32(&m.runCount))
}

func TestPool_StartStop(t *testing.T) {
	pool := NewPool()

	worker := newMockWorker("poller", 100*time.Millisecond, true)
	pool.Register(worker)

	require.NoError(t, pool.Start(context.Background()))
	assert.True(t, pool.IsRunning())

	time.Sleep(250 * time.Millisecond)

	require.NoError(t, pool.Stop())
	assert.False(t, pool.IsRunning())

	// Immediate run plus at least one tick
	assert.GreaterOrEqual(t, worker.GetRunCount(), 2)
}

func TestPool_DisabledWorkerNeverRuns(t *testing.T) {
	pool := NewPool()

	enabled := newMockWorker("scanner", 100*time.Millisecond, true)
	disabled := newMockWorker("stats", 100*time.Millisecond, false)

	pool.Register(enabled)
	pool.Register(disabled)

	require.NoError(t, pool.Start(context.Background()))
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, pool.Stop())

	assert.Greater(t, enabled.GetRunCount(), 0)
	assert.Equal(t, 0, disabled.GetRunCount())
}

func TestPool_CannotStartTwice(t *testing.T) {
	pool := NewPool()
	pool.Register(newMockWorker("poller", 100*time.Millisecond, true))

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.Error(t, pool.Start(ctx))

	pool.Stop()
}

func TestPool_PanicRecovered(t *testing.T) {
	pool := NewPool()

	worker := newMockWorker("panicky", 50*time.Millisecond, true)
	worker.runFunc = func(ctx context.Context) error {
		panic("boom")
	}
	pool.Register(worker)

	require.NoError(t, pool.Start(context.Background()))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, pool.Stop())

	assert.Greater(t, worker.GetRunCount(), 1, "worker keeps running after a panic")
}

func TestPool_HealthRecording(t *testing.T) {
	pool := NewPool()

	worker := newMockWorker("flaky", 50*time.Millisecond, true)
	var fail atomic.Bool
	fail.Store(true)
	worker.runFunc = func(ctx context.Context) error {
		if fail.Swap(false) {
			return errors.ErrInternal
		}
		return nil
	}
	pool.Register(worker)

	require.NoError(t, pool.Start(context.Background()))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, pool.Stop())

	health := worker.Health()
	assert.GreaterOrEqual(t, health.RunCount, int64(2))
	assert.Equal(t, int64(1), health.ErrorCount)
	assert.NoError(t, health.LastError, "last error is cleared by a later success")
}

func TestPool_ContextCancellation(t *testing.T) {
	pool := NewPool()
	worker := newMockWorker("poller", 100*time.Millisecond, true)
	pool.Register(worker)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))

	cancel()
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, pool.Stop())
}
