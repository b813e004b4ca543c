package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-quicktabs/config"
)

func fixedTimeout(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func TestDispatcher_PriorityOrder(t *testing.T) {
	d := NewDispatcher(nil, fixedTimeout(5*time.Second), clock.New(), nil)
	t.Cleanup(d.Stop)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	var results []<-chan error
	for _, op := range []Operation{
		{Name: "ping", Priority: PriorityLow, Run: record("ping")},
		{Name: "move", Priority: PriorityMedium, Run: record("move")},
		{Name: "create", Priority: PriorityCritical, Run: record("create")},
		{Name: "close", Priority: PriorityHigh, Run: record("close")},
	} {
		r, err := d.Submit(op)
		require.NoError(t, err)
		results = append(results, r)
	}
	assert.Equal(t, 4, d.Depth())

	d.Start()
	for _, r := range results {
		select {
		case err := <-r:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("operation did not complete")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"create", "close", "move", "ping"}, order)
	require.Eventually(t, func() bool { return d.Depth() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_TimedOutOperationDoesNotBlockQueue(t *testing.T) {
	clk := clock.NewMock()
	d := NewDispatcher(nil, fixedTimeout(5*time.Second), clk, nil)
	d.Start()
	t.Cleanup(d.Stop)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck, err := d.Submit(Operation{Name: "stuck", Priority: PriorityHigh, Run: func(context.Context) error {
		<-release
		return nil
	}})
	require.NoError(t, err)
	next, err := d.Submit(Operation{Name: "next", Priority: PriorityHigh, Run: func(context.Context) error {
		return nil
	}})
	require.NoError(t, err)

	var stuckErr error
	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		select {
		case stuckErr = <-stuck:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	var te *TimeoutError
	require.ErrorAs(t, stuckErr, &te)
	assert.Equal(t, "stuck", te.Operation)
	assert.True(t, errors.Is(stuckErr, context.DeadlineExceeded))

	select {
	case err := <-next:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queue blocked behind timed-out operation")
	}
}

func TestDispatcher_ShedsThroughLoadShedder(t *testing.T) {
	shedder := NewLoadShedder(4, nil)
	d := NewDispatcher(shedder, fixedTimeout(time.Second), clock.New(), nil)
	t.Cleanup(d.Stop)

	noop := func(context.Context) error { return nil }
	for _i := 0; _i < 2; _i++ {
		_, err := d.Submit(Operation{Name: "bg", Priority: PriorityLow, Run: noop})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, shedder.Depth())

	_, err := d.Submit(Operation{Name: "bg", Priority: PriorityLow, Run: noop})
	assert.ErrorIs(t, err, ErrShed)

	_, err = d.Submit(Operation{Name: "create", Priority: PriorityCritical, Run: noop})
	assert.NoError(t, err)
}

func TestDispatcher_StopAbandonsQueued(t *testing.T) {
	d := NewDispatcher(nil, fixedTimeout(time.Second), clock.New(), nil)

	r, err := d.Submit(Operation{Name: "late", Run: func(context.Context) error { return nil }})
	require.NoError(t, err)

	d.Stop()
	assert.ErrorIs(t, <-r, ErrClosed)
	assert.Equal(t, 0, d.Depth())

	_, err = d.Submit(Operation{Name: "after"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_DoHonoursCallerContext(t *testing.T) {
	d := NewDispatcher(nil, fixedTimeout(time.Minute), clock.New(), nil)
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Do(ctx, Operation{Name: "never", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestOperationLimit 操作时限不低于配置值
func TestOperationLimit(t *testing.T) {
	assert.Equal(t, 5*time.Second, OperationLimit(5*time.Second, nil)())
	assert.Equal(t, 8*time.Second, OperationLimit(8*time.Second, fixedTimeout(5*time.Second))())
	assert.Equal(t, 20*time.Second, OperationLimit(5*time.Second, fixedTimeout(20*time.Second))())
}

// TestProvideComponents_DispatcherUsesOperationTimeout 分发器时限来自配置
func TestProvideComponents_DispatcherUsesOperationTimeout(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Resilience.OperationTimeout = config.Duration(8 * time.Second)

	out, err := ProvideComponents(ModuleInput{UnifiedCfg: cfg, Clock: clock.NewMock()})
	require.NoError(t, err)
	t.Cleanup(out.Dispatcher.Stop)

	assert.Equal(t, 8*time.Second, out.Dispatcher.timeout())
}

// TestDispatcher_OperationTimeoutFloor 自适应超时较短时按配置的时限放弃
func TestDispatcher_OperationTimeoutFloor(t *testing.T) {
	clk := clock.NewMock()
	d := NewDispatcher(nil, OperationLimit(8*time.Second, fixedTimeout(5*time.Second)), clk, nil)
	d.Start()
	t.Cleanup(d.Stop)

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	result, err := d.Submit(Operation{Name: "slow", Priority: PriorityHigh, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	require.NoError(t, err)
	<-started

	clk.Add(5 * time.Second)
	select {
	case err := <-result:
		t.Fatalf("operation abandoned before the configured limit: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	clk.Add(3 * time.Second)
	select {
	case err := <-result:
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 8*time.Second, te.After)
	case <-time.After(2 * time.Second):
		t.Fatal("operation not abandoned at the configured limit")
	}
}
