package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/circuit"
	"github.com/dep2p/go-quicktabs/internal/core/eventbus"
	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
	"github.com/dep2p/go-quicktabs/internal/core/storage/engine/badger"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

const testContainer = "firefox-container-1"

// flakyEngine 可注入写失败的引擎
type flakyEngine struct {
	engine.InternalEngine
	failPuts atomic.Bool
}

func (e *flakyEngine) Put(key, value []byte) error {
	if e.failPuts.Load() {
		return errors.New("disk full")
	}
	return e.InternalEngine.Put(key, value)
}

// fakeSource 可控的协调器状态来源
type fakeSource struct {
	overlays []*types.Overlay
	err      error
	calls    atomic.Int32
}

func (s *fakeSource) FullState(_ context.Context, _ string) ([]*types.Overlay, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return types.CloneOverlays(s.overlays), nil
}

type testEnv struct {
	mgr   *Manager
	eng   *flakyEngine
	bus   *eventbus.Bus
	clock *clock.Mock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	raw, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	eng := &flakyEngine{InternalEngine: raw}
	clk := clock.NewMock()
	bus := eventbus.NewBus(clk)
	t.Cleanup(func() { _ = bus.Close() })

	mgr := NewManager(config.DefaultStorageConfig(), eng, bus, testContainer, clk, nil)
	return &testEnv{mgr: mgr, eng: eng, bus: bus, clock: clk}
}

func overlay(id string) *types.Overlay {
	return &types.Overlay{
		ID:          id,
		URL:         "https://example.com/" + id,
		Size:        types.Size{Width: 400, Height: 300},
		Slot:        1,
		ContainerID: testContainer,
	}
}

// writeExternal 以协调器的身份直接写容器记录
func writeExternal(t *testing.T, env *testEnv, saveID string, overlays ...*types.Overlay) {
	t.Helper()
	data, err := EncodeContainerRecord(&ContainerRecord{
		Overlays:   overlays,
		LastUpdate: env.clock.Now().UnixMilli(),
		SaveID:     saveID,
	})
	require.NoError(t, err)
	require.NoError(t, env.eng.InternalEngine.Put([]byte(ContainerPrefix+testContainer), data))
}

func subscribeChanges(t *testing.T, env *testEnv) pkgif.Subscription {
	t.Helper()
	sub, err := env.bus.Subscribe([]string{types.EventStorageChanged}, pkgif.BufSize(8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func expectNoEvent(t *testing.T, sub pkgif.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Out():
		t.Fatalf("unexpected event: %+v", ev.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func nextChange(t *testing.T, sub pkgif.Subscription) types.StorageChangedEvent {
	t.Helper()
	select {
	case ev := <-sub.Out():
		payload, ok := ev.Payload.(types.StorageChangedEvent)
		require.True(t, ok)
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for storage:changed")
	}
	return types.StorageChangedEvent{}
}

// ============================================================================
//                              读写
// ============================================================================

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	saveID, err := env.mgr.Save([]*types.Overlay{overlay("qt-1"), overlay("qt-2")})
	require.NoError(t, err)
	assert.NotEmpty(t, saveID)

	got := env.mgr.LoadAll(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "qt-1", got[0].ID)
	assert.Equal(t, testContainer, got[1].ContainerID)
}

func TestManager_LoadAllEmpty(t *testing.T) {
	env := newTestEnv(t)
	got := env.mgr.LoadAll(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestManager_LoadAllFiltersForeignContainers(t *testing.T) {
	env := newTestEnv(t)
	foreign := overlay("qt-x")
	foreign.ContainerID = "other"
	_, err := env.mgr.Save([]*types.Overlay{overlay("qt-1"), foreign})
	require.NoError(t, err)

	got := env.mgr.LoadAll(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "qt-1", got[0].ID)
}

func TestManager_DeleteAndClear(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.Save([]*types.Overlay{overlay("qt-1"), overlay("qt-2")})
	require.NoError(t, err)

	require.NoError(t, env.mgr.Delete("qt-1"))
	got := env.mgr.LoadAll(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "qt-2", got[0].ID)

	// 删除不存在的 overlay 不报错
	require.NoError(t, env.mgr.Delete("missing"))

	_, err = env.mgr.WriteBroadcastRecord([]byte(`{"type":"CLOSE"}`), time.Minute)
	require.NoError(t, err)

	require.NoError(t, env.mgr.Clear())
	assert.Empty(t, env.mgr.LoadAll(context.Background()))
	keys, err := env.mgr.broadcastKeys(testContainer)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// ============================================================================
//                              自写入抑制与去抖
// ============================================================================

func TestManager_SelfWriteSuppressed(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Start())
	defer env.mgr.Stop()
	sub := subscribeChanges(t, env)

	_, err := env.mgr.Save([]*types.Overlay{overlay("qt-1")})
	require.NoError(t, err)
	assert.Equal(t, 0, env.mgr.PendingSaves(), "echo should release the pending save")

	env.clock.Add(200 * time.Millisecond)
	expectNoEvent(t, sub)
}

func TestManager_ExternalChangeEmitted(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Start())
	defer env.mgr.Stop()
	sub := subscribeChanges(t, env)

	writeExternal(t, env, "", overlay("qt-9"))
	env.clock.Add(50 * time.Millisecond)

	ev := nextChange(t, sub)
	assert.Equal(t, testContainer, ev.ContainerID)
	require.Len(t, ev.Overlays, 1)
	assert.Equal(t, "qt-9", ev.Overlays[0].ID)
}

func TestManager_OwnWriteSupersedesDebouncedChange(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Start())
	defer env.mgr.Stop()
	sub := subscribeChanges(t, env)

	writeExternal(t, env, "someone-else", overlay("qt-old"))
	_, err := env.mgr.Save([]*types.Overlay{overlay("qt-new")})
	require.NoError(t, err)

	env.clock.Add(200 * time.Millisecond)
	expectNoEvent(t, sub)
}

func TestManager_ForeignSaveIDEmitted(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Start())
	defer env.mgr.Stop()
	sub := subscribeChanges(t, env)

	writeExternal(t, env, "someone-else", overlay("qt-1"))
	env.clock.Add(50 * time.Millisecond)
	ev := nextChange(t, sub)
	assert.Equal(t, "someone-else", ev.SaveID)
}

func TestManager_BareChangeIgnoredWhilePending(t *testing.T) {
	env := newTestEnv(t)
	sub := subscribeChanges(t, env)

	// 未启动时写入：没有回声，PendingSave 保留
	_, err := env.mgr.Save([]*types.Overlay{overlay("qt-1")})
	require.NoError(t, err)
	require.NoError(t, env.mgr.Start())
	defer env.mgr.Stop()
	assert.Equal(t, 1, env.mgr.PendingSaves())

	writeExternal(t, env, "", overlay("qt-2"))
	env.clock.Add(50 * time.Millisecond)
	expectNoEvent(t, sub)

	// 宽限窗口过后 PendingSave 过期，裸变更恢复传播
	env.clock.Add(100 * time.Millisecond)
	assert.Equal(t, 0, env.mgr.PendingSaves())

	writeExternal(t, env, "", overlay("qt-3"))
	env.clock.Add(50 * time.Millisecond)
	ev := nextChange(t, sub)
	require.Len(t, ev.Overlays, 1)
	assert.Equal(t, "qt-3", ev.Overlays[0].ID)
}

func TestManager_DebounceCollapsesToLatest(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Start())
	defer env.mgr.Stop()
	sub := subscribeChanges(t, env)

	for i := 1; i <= 3; i++ {
		writeExternal(t, env, "", overlay(fmt.Sprintf("qt-%d", i)))
		env.clock.Add(10 * time.Millisecond)
	}
	env.clock.Add(50 * time.Millisecond)

	ev := nextChange(t, sub)
	require.Len(t, ev.Overlays, 1)
	assert.Equal(t, "qt-3", ev.Overlays[0].ID)
	expectNoEvent(t, sub)
}

func TestManager_IgnoresOtherContainers(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Start())
	defer env.mgr.Stop()
	sub := subscribeChanges(t, env)

	data, err := EncodeContainerRecord(&ContainerRecord{Overlays: []*types.Overlay{overlay("qt-1")}})
	require.NoError(t, err)
	require.NoError(t, env.eng.InternalEngine.Put([]byte(ContainerPrefix+"other"), data))
	env.clock.Add(100 * time.Millisecond)
	expectNoEvent(t, sub)
}

func TestManager_StopDropsPendingNotification(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mgr.Start())
	sub := subscribeChanges(t, env)

	writeExternal(t, env, "", overlay("qt-1"))
	require.NoError(t, env.mgr.Stop())
	env.clock.Add(100 * time.Millisecond)
	expectNoEvent(t, sub)
}

// ============================================================================
//                              断路器
// ============================================================================

func TestManager_WriteBreakerOpensAndRecovers(t *testing.T) {
	env := newTestEnv(t)
	env.eng.failPuts.Store(true)

	for i := 0; i < 10; i++ {
		_, err := env.mgr.Save([]*types.Overlay{overlay("qt-1")})
		require.ErrorIs(t, err, ErrWriteFailed)
	}
	assert.Equal(t, circuit.StateOpen, env.mgr.WriteBreakerState())

	_, err := env.mgr.Save(nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, env.mgr.PendingSaves())

	env.clock.Add(5 * time.Second)
	assert.Equal(t, circuit.StateHalfOpen, env.mgr.WriteBreakerState())

	// 半开探测失败重新打开
	_, err = env.mgr.Save(nil)
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, circuit.StateOpen, env.mgr.WriteBreakerState())

	env.clock.Add(5 * time.Second)
	env.eng.failPuts.Store(false)
	_, err = env.mgr.Save(nil)
	require.NoError(t, err)
	assert.Equal(t, circuit.StateHalfOpen, env.mgr.WriteBreakerState())
	_, err = env.mgr.Save(nil)
	require.NoError(t, err)
	assert.Equal(t, circuit.StateClosed, env.mgr.WriteBreakerState())
}

func TestManager_LoadAllPrefersCoordinator(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.Save([]*types.Overlay{overlay("stored")})
	require.NoError(t, err)

	src := &fakeSource{overlays: []*types.Overlay{overlay("authoritative")}}
	env.mgr.SetStateSource(src)

	got := env.mgr.LoadAll(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "authoritative", got[0].ID)

	src.err = errors.New("port disconnected")
	got = env.mgr.LoadAll(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "stored", got[0].ID)
}

func TestManager_TransactionTimeoutsSkipCoordinator(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.Save([]*types.Overlay{overlay("stored")})
	require.NoError(t, err)

	src := &fakeSource{err: fmt.Errorf("get full state: %w", context.DeadlineExceeded)}
	env.mgr.SetStateSource(src)

	env.mgr.LoadAll(context.Background())
	assert.Equal(t, TxBackoff, env.mgr.TransactionMode())

	// 退避窗口内不访问协调器
	got := env.mgr.LoadAll(context.Background())
	assert.Equal(t, int32(1), src.calls.Load())
	require.Len(t, got, 1)
	assert.Equal(t, "stored", got[0].ID)

	env.clock.Add(time.Second)
	env.mgr.LoadAll(context.Background())
	env.clock.Add(3 * time.Second)
	env.mgr.LoadAll(context.Background())
	assert.Equal(t, int32(3), src.calls.Load())
	assert.Equal(t, TxTripped, env.mgr.TransactionMode())
}

// ============================================================================
//                              回退记录
// ============================================================================

func TestManager_BroadcastRecords(t *testing.T) {
	env := newTestEnv(t)

	var got [][]byte
	cancel := env.mgr.OnBroadcastRecord(func(envelope []byte) {
		got = append(got, envelope)
	})
	defer cancel()

	k1, err := env.mgr.WriteBroadcastRecord([]byte(`{"type":"CREATE"}`), time.Minute)
	require.NoError(t, err)
	k2, err := env.mgr.WriteBroadcastRecord([]byte(`{"type":"CLOSE"}`), time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "records in the same millisecond must not collide")

	c, _, ok := parseBroadcastKey(k1)
	require.True(t, ok)
	assert.Equal(t, testContainer, c)

	require.Len(t, got, 2)
	assert.JSONEq(t, `{"type":"CREATE"}`, string(got[0]))

	// 其他容器的记录不投递
	foreign, err := json.Marshal(&BroadcastRecord{ContainerID: "other", Envelope: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, env.eng.PutWithTTL([]byte(BroadcastPrefix+broadcastKey("other", 1, "w1", 1)), foreign, time.Minute))
	assert.Len(t, got, 2)
}

// TestManager_BroadcastRecordsFromTwoWriters 同一容器的两个上下文在同一毫秒写入互不覆盖
func TestManager_BroadcastRecordsFromTwoWriters(t *testing.T) {
	env := newTestEnv(t)
	other := NewManager(config.DefaultStorageConfig(), env.eng, env.bus, testContainer, env.clock, nil)

	var got []string
	cancel := env.mgr.OnBroadcastRecord(func(envelope []byte) {
		got = append(got, string(envelope))
	})
	defer cancel()

	k1, err := env.mgr.WriteBroadcastRecord([]byte(`{"from":"a"}`), time.Minute)
	require.NoError(t, err)
	k2, err := other.WriteBroadcastRecord([]byte(`{"from":"b"}`), time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	keys, err := env.mgr.broadcastKeys(testContainer)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Equal(t, []string{`{"from":"a"}`, `{"from":"b"}`}, got)
}

func TestManager_SweepBroadcastRecords(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.WriteBroadcastRecord([]byte(`{}`), time.Hour)
	require.NoError(t, err)

	env.clock.Add(3 * time.Second)
	_, err = env.mgr.WriteBroadcastRecord([]byte(`{}`), time.Hour)
	require.NoError(t, err)

	env.clock.Add(3 * time.Second)
	n, err := env.mgr.SweepBroadcastRecords(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := env.mgr.broadcastKeys(testContainer)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestParseBroadcastKey(t *testing.T) {
	tests := []struct {
		key       string
		container string
		ts        int64
		ok        bool
	}{
		{"firefox-default-1700000000000-9f2c4a1b7d3e-3", "firefox-default", 1700000000000, true},
		{"c-1-w-2", "c", 1, true},
		{"plain", "", 0, false},
		{"c-1-2", "", 0, false},
		{"c-abc-w-1", "", 0, false},
		{"c-1--2", "", 0, false},
		{"-1-w-2", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c, ts, ok := parseBroadcastKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.container, c)
				assert.Equal(t, tt.ts, ts)
			}
		})
	}
	assert.Equal(t, "a-b-5-w-7", broadcastKey("a-b", 5, "w", 7))
}
