package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// TestBus_ImplementsInterface 验证 Bus 实现接口
func TestBus_ImplementsInterface(t *testing.T) {
	var _ pkgif.EventBus = (*Bus)(nil)
}

// TestBus_EmitAndReceive 测试事件发射和接收
func TestBus_EmitAndReceive(t *testing.T) {
	mock := clock.NewMock()
	bus := NewBus(mock)

	sub, err := bus.Subscribe([]string{types.EventStateAdded, types.EventStateDeleted})
	require.NoError(t, err)
	defer sub.Close()

	bus.Emit(types.EventStateAdded, "a")
	bus.Emit(types.EventStateUpdated, "ignored")
	bus.Emit(types.EventStateDeleted, "d")

	ev := <-sub.Out()
	assert.Equal(t, types.EventStateAdded, ev.Topic)
	assert.Equal(t, "a", ev.Payload)
	assert.Equal(t, mock.Now(), ev.At)

	ev = <-sub.Out()
	assert.Equal(t, types.EventStateDeleted, ev.Topic)

	select {
	case ev := <-sub.Out():
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

// TestBus_HandleIsSynchronous 同步处理器在 Emit 返回前执行
func TestBus_HandleIsSynchronous(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	cancel := bus.Handle(types.EventStorageChanged, func(ev types.Event) {
		got = append(got, ev.Payload.(string))
	})

	bus.Emit(types.EventStorageChanged, "one")
	assert.Equal(t, []string{"one"}, got)

	cancel()
	cancel() // 幂等
	bus.Emit(types.EventStorageChanged, "two")
	assert.Equal(t, []string{"one"}, got)
}

// TestBus_HandlerMayReEmit 处理器内部再次 Emit 不会死锁
func TestBus_HandlerMayReEmit(t *testing.T) {
	bus := NewBus(nil)

	var second int
	bus.Handle("second", func(types.Event) { second++ })
	bus.Handle("first", func(types.Event) { bus.Emit("second", nil) })

	done := make(chan struct{})
	go func() {
		bus.Emit("first", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-emit deadlocked")
	}
	assert.Equal(t, 1, second)
}

// TestBus_SlowConsumerDrops 缓冲区满时丢弃而不阻塞
func TestBus_SlowConsumerDrops(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe([]string{"t"}, pkgif.BufSize(2))
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Emit("t", i)
	}
	assert.Equal(t, int64(3), bus.DroppedEvents("t"))
	assert.Len(t, sub.Out(), 2)
}

// TestBus_ConcurrentCloseAndEmit 并发关闭与发射不会 panic
func TestBus_ConcurrentCloseAndEmit(t *testing.T) {
	bus := NewBus(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, err := bus.Subscribe([]string{"t"}, pkgif.BufSize(1))
		require.NoError(t, err)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Emit("t", j)
			}
		}()
		go func() {
			defer wg.Done()
			_ = sub.Close()
		}()
	}
	wg.Wait()
}

// TestBus_SubscribeAfterClose 关闭后订阅失败
func TestBus_SubscribeAfterClose(t *testing.T) {
	bus := NewBus(nil)
	require.NoError(t, bus.Close())
	_, err := bus.Subscribe([]string{"t"})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = NewBus(nil).Subscribe(nil)
	assert.ErrorIs(t, err, ErrNoTopics)
}

// TestModule 测试 Fx 模块
func TestModule(t *testing.T) {
	var bus pkgif.EventBus
	app := fxtest.New(t,
		fx.Supply(fx.Annotate(clock.NewMock(), fx.As(new(clock.Clock)))),
		Module(),
		fx.Populate(&bus),
	)
	app.RequireStart()
	require.NotNil(t, bus)
	app.RequireStop()
}
