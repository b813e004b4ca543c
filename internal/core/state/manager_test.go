package state

import (
	"encoding/json"
	"math/rand"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-quicktabs/internal/core/eventbus"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// ============================================================================
//                              测试辅助
// ============================================================================

func newTestManager(t *testing.T, contextID string) (*Manager, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.NewBus(clock.NewMock())
	return NewManager(bus, contextID, "", clock.NewMock()), bus
}

func overlay(id string) *types.Overlay {
	return &types.Overlay{
		ID:       id,
		URL:      "https://example.com/" + id,
		Position: types.Position{Left: 10, Top: 20},
		Size:     types.Size{Width: 400, Height: 300},
	}
}

func msg(t *testing.T, typ types.MessageType, seq uint64, payload any) *types.SyncMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &types.SyncMessage{Type: typ, Payload: data, SenderID: "peer", Sequence: seq}
}

func ids(list []*types.Overlay) []string {
	out := make([]string, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}

// ============================================================================
//                              增删改查
// ============================================================================

// TestManager_AddGetDelete 基本增删查
func TestManager_AddGetDelete(t *testing.T) {
	m, bus := newTestManager(t, "tab-1")
	sub, err := bus.Subscribe([]string{types.EventStateAdded, types.EventStateDeleted})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, m.Add(overlay("a")))
	assert.True(t, m.Has("a"))

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, types.DefaultContainerID, got.ContainerID)
	assert.Equal(t, 1, got.Slot)
	assert.Equal(t, int64(1), got.ZIndex)
	assert.False(t, got.CreatedAt.IsZero())

	// 返回的是副本
	got.Position.Left = 999
	again, _ := m.Get("a")
	assert.Equal(t, 10, again.Position.Left)

	assert.ErrorIs(t, m.Add(overlay("a")), ErrDuplicateOverlay)

	require.NoError(t, m.Delete("a"))
	assert.False(t, m.Has("a"))
	assert.ErrorIs(t, m.Delete("a"), types.ErrOverlayNotFound)

	ev := <-sub.Out()
	assert.Equal(t, types.EventStateAdded, ev.Topic)
	ev = <-sub.Out()
	assert.Equal(t, types.EventStateDeleted, ev.Topic)
	assert.Equal(t, "a", ev.Payload.(types.StateEvent).Overlay.ID)
}

// TestManager_InvalidOverlay 不合法的 overlay 返回类型错误
func TestManager_InvalidOverlay(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")

	assert.ErrorIs(t, m.Add(nil), types.ErrInvalidOverlay)
	assert.ErrorIs(t, m.Add(&types.Overlay{ID: "x"}), types.ErrInvalidOverlay)
	bad := overlay("neg")
	bad.Size.Width = -1
	assert.ErrorIs(t, m.Add(bad), types.ErrInvalidOverlay)
	assert.Equal(t, 0, m.Count())

	require.NoError(t, m.Add(overlay("a")))
	upd := overlay("a")
	upd.URL = ""
	assert.ErrorIs(t, m.Update(upd), types.ErrInvalidOverlay)
	assert.ErrorIs(t, m.Update(overlay("missing")), types.ErrOverlayNotFound)
}

// TestManager_UpdateKeepsSlotAndZ 更新沿用未提供的 slot / z-index
func TestManager_UpdateKeepsSlotAndZ(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")
	require.NoError(t, m.Add(overlay("a")))
	require.NoError(t, m.Add(overlay("b")))

	upd := overlay("b")
	upd.Position = types.Position{Left: 300, Top: 300}
	require.NoError(t, m.Update(upd))

	got, _ := m.Get("b")
	assert.Equal(t, 2, got.Slot)
	assert.Equal(t, int64(2), got.ZIndex)
	assert.Equal(t, types.Position{Left: 300, Top: 300}, got.Position)
}

// ============================================================================
//                              Slot 与 Z-order
// ============================================================================

// TestManager_SlotReuse 删除后的 slot 立即复用
func TestManager_SlotReuse(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Add(overlay(id)))
	}
	require.NoError(t, m.Delete("b"))
	require.NoError(t, m.Add(overlay("d")))

	d, _ := m.Get("d")
	assert.Equal(t, 2, d.Slot)

	require.NoError(t, m.Add(overlay("e")))
	e, _ := m.Get("e")
	assert.Equal(t, 4, e.Slot)

	assert.Equal(t, []string{"a", "d", "c", "e"}, ids(m.GetAll()))
}

// TestManager_SuppliedSlotRespected 显式 slot 不被覆盖
func TestManager_SuppliedSlotRespected(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")
	o := overlay("a")
	o.Slot = 3
	require.NoError(t, m.Add(o))
	require.NoError(t, m.Add(overlay("b")))

	b, _ := m.Get("b")
	assert.Equal(t, 1, b.Slot)
}

// TestManager_BringToFront 单调计数器，不重新归一化
func TestManager_BringToFront(t *testing.T) {
	m, bus := newTestManager(t, "tab-1")
	require.NoError(t, m.Add(overlay("a")))
	require.NoError(t, m.Add(overlay("b")))

	var zEvents int
	bus.Handle(types.EventStateZOrder, func(types.Event) { zEvents++ })

	z, err := m.BringToFront("a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), z)

	b, _ := m.Get("b")
	assert.Equal(t, int64(2), b.ZIndex)

	z, err = m.BringToFront("a")
	require.NoError(t, err)
	assert.Equal(t, int64(4), z)
	assert.Equal(t, 2, zEvents)

	_, err = m.BringToFront("missing")
	assert.ErrorIs(t, err, types.ErrOverlayNotFound)
}

// ============================================================================
//                              可见性
// ============================================================================

// TestManager_GetVisible 可见性规则
func TestManager_GetVisible(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")

	plain := overlay("plain")
	soloHere := overlay("solo-here")
	soloHere.SoloedOn = []string{"tab-1"}
	soloElse := overlay("solo-else")
	soloElse.SoloedOn = []string{"tab-2"}
	mutedHere := overlay("muted-here")
	mutedHere.MutedOn = []string{"tab-1"}
	soloAndMuted := overlay("solo-muted")
	soloAndMuted.SoloedOn = []string{"tab-1"}
	soloAndMuted.MutedOn = []string{"tab-1"}
	minimized := overlay("min")
	minimized.Minimized = true

	for _, o := range []*types.Overlay{plain, soloHere, soloElse, mutedHere, soloAndMuted, minimized} {
		require.NoError(t, m.Add(o))
	}

	assert.ElementsMatch(t, []string{"plain", "solo-here"}, ids(m.GetVisible()))
	assert.Equal(t, []string{"min"}, ids(m.GetMinimized()))

	m.SetContextID("tab-2")
	assert.ElementsMatch(t, []string{"plain", "solo-else", "muted-here"}, ids(m.GetVisible()))
}

// TestManager_VisibilityOrderIndependent solo/mute 应用顺序不影响结果
func TestManager_VisibilityOrderIndependent(t *testing.T) {
	ops := []*types.SyncMessage{
		msg(t, types.MessageSolo, 2, types.VisibilityPayload{ID: "o", ContextIDs: []string{"tab-1", "tab-2"}}),
		msg(t, types.MessageMute, 3, types.VisibilityPayload{ID: "o", ContextIDs: []string{"tab-2"}}),
		msg(t, types.MessageMinimize, 4, types.OverlayRef{ID: "o"}),
		msg(t, types.MessageRestore, 5, types.OverlayRef{ID: "o"}),
	}

	expect := map[string]bool{"tab-1": true, "tab-2": false, "tab-3": false}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		m, _ := newTestManager(t, "tab-1")
		require.NoError(t, m.Add(overlay("o")))

		// 最小化/恢复保持相对顺序，solo/mute 任意交错
		perm := rng.Perm(2)
		sequence := []*types.SyncMessage{ops[perm[0]], ops[perm[1]], ops[2], ops[3]}
		for _, op := range sequence {
			require.NoError(t, m.Apply(op))
		}

		for ctxID, visible := range expect {
			m.SetContextID(ctxID)
			assert.Equal(t, visible, len(m.GetVisible()) == 1, "round %d context %s", round, ctxID)
		}
	}
}

// ============================================================================
//                              Hydrate / Clear / Cleanup
// ============================================================================

// TestManager_HydrateAtomic 任一条目不合法时整表不变
func TestManager_HydrateAtomic(t *testing.T) {
	m, bus := newTestManager(t, "tab-1")
	require.NoError(t, m.Add(overlay("keep")))

	var hydrated []*types.Overlay
	bus.Handle(types.EventStateHydrated, func(ev types.Event) {
		hydrated = ev.Payload.(types.StateEvent).Overlays
	})

	err := m.Hydrate([]*types.Overlay{overlay("x"), {ID: "bad"}})
	assert.ErrorIs(t, err, types.ErrInvalidOverlay)
	assert.Equal(t, []string{"keep"}, ids(m.GetAll()))
	assert.Nil(t, hydrated)

	withZ := overlay("y")
	withZ.ZIndex = 10
	withZ.Slot = 2
	require.NoError(t, m.Hydrate([]*types.Overlay{overlay("x"), withZ}))
	assert.Equal(t, []string{"x", "y"}, ids(m.GetAll()))
	assert.Len(t, hydrated, 2)

	x, _ := m.Get("x")
	assert.Equal(t, 1, x.Slot)

	// 计数器跟随最大 z-index
	z, err := m.BringToFront("x")
	require.NoError(t, err)
	assert.Greater(t, z, int64(10))
}

// TestManager_Clear 清空
func TestManager_Clear(t *testing.T) {
	m, bus := newTestManager(t, "tab-1")
	require.NoError(t, m.Add(overlay("a")))

	cleared := false
	bus.Handle(types.EventStateCleared, func(types.Event) { cleared = true })
	m.Clear()
	assert.Equal(t, 0, m.Count())
	assert.True(t, cleared)
}

// TestManager_CleanupDeadTabs 移除失效上下文
func TestManager_CleanupDeadTabs(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")

	soloDead := overlay("a")
	soloDead.SoloedOn = []string{"tab-dead"}
	mixed := overlay("b")
	mixed.SoloedOn = []string{"tab-1", "tab-dead"}
	mixed.MutedOn = []string{"tab-gone"}
	untouched := overlay("c")
	untouched.MutedOn = []string{"tab-2"}
	for _, o := range []*types.Overlay{soloDead, mixed, untouched} {
		require.NoError(t, m.Add(o))
	}

	// 失效上下文 solo 的 overlay 在 tab-1 中隐藏
	assert.NotContains(t, ids(m.GetVisible()), "a")

	n := m.CleanupDeadTabs([]string{"tab-1", "tab-2"})
	assert.Equal(t, 2, n)

	a, _ := m.Get("a")
	assert.Nil(t, a.SoloedOn)
	b, _ := m.Get("b")
	assert.Equal(t, []string{"tab-1"}, b.SoloedOn)
	assert.Nil(t, b.MutedOn)
	c, _ := m.Get("c")
	assert.Equal(t, []string{"tab-2"}, c.MutedOn)

	assert.Contains(t, ids(m.GetVisible()), "a")
	assert.Equal(t, 0, m.CleanupDeadTabs([]string{"tab-1", "tab-2"}))
}

// TestManager_GetByContainer 按容器过滤
func TestManager_GetByContainer(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")
	work := overlay("w")
	work.ContainerID = "work"
	require.NoError(t, m.Add(work))
	require.NoError(t, m.Add(overlay("d")))

	assert.Equal(t, []string{"w"}, ids(m.GetByContainer("work")))
	assert.Equal(t, []string{"d"}, ids(m.GetByContainer(types.DefaultContainerID)))
}

// ============================================================================
//                              Apply
// ============================================================================

// TestManager_Apply 应用全部消息类型
func TestManager_Apply(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")

	created := overlay("o")
	created.Position = types.Position{Left: 100, Top: 100}
	require.NoError(t, m.Apply(msg(t, types.MessageCreate, 1, created)))
	o, ok := m.Get("o")
	require.True(t, ok)
	assert.Equal(t, types.Position{Left: 100, Top: 100}, o.Position)

	// 重复 CREATE 是更新
	require.NoError(t, m.Apply(msg(t, types.MessageCreate, 2, created)))
	assert.Equal(t, 1, m.Count())

	require.NoError(t, m.Apply(msg(t, types.MessageUpdatePosition, 3, types.PositionPayload{ID: "o", Left: 300, Top: 300})))
	require.NoError(t, m.Apply(msg(t, types.MessageUpdateSize, 4, types.SizePayload{ID: "o", Width: 640, Height: 480})))
	o, _ = m.Get("o")
	assert.Equal(t, types.Position{Left: 300, Top: 300}, o.Position)
	assert.Equal(t, types.Size{Width: 640, Height: 480}, o.Size)

	require.NoError(t, m.Apply(msg(t, types.MessageMinimize, 5, types.OverlayRef{ID: "o"})))
	assert.Len(t, m.GetMinimized(), 1)
	require.NoError(t, m.Apply(msg(t, types.MessageRestore, 6, types.OverlayRef{ID: "o"})))
	assert.Empty(t, m.GetMinimized())

	require.NoError(t, m.Apply(msg(t, types.MessageSolo, 7, types.VisibilityPayload{ID: "o", ContextIDs: []string{"tab-2", "tab-2", ""}})))
	o, _ = m.Get("o")
	assert.Equal(t, []string{"tab-2"}, o.SoloedOn)

	err := m.Apply(msg(t, types.MessageUpdatePosition, 8, types.PositionPayload{ID: "missing"}))
	assert.ErrorIs(t, err, types.ErrOverlayNotFound)

	require.NoError(t, m.Apply(msg(t, types.MessageClose, 9, types.OverlayRef{ID: "o"})))
	assert.False(t, m.Has("o"))
	// 关闭不存在的 overlay 幂等
	require.NoError(t, m.Apply(msg(t, types.MessageClose, 10, types.OverlayRef{ID: "o"})))
}

// TestManager_ApplyMalformed 不合法的信封被拒绝
func TestManager_ApplyMalformed(t *testing.T) {
	m, _ := newTestManager(t, "tab-1")

	assert.ErrorIs(t, m.Apply(&types.SyncMessage{Type: types.MessageCreate}), types.ErrMalformedMessage)

	bad := &types.SyncMessage{Type: types.MessageCreate, SenderID: "p", Sequence: 1, Payload: json.RawMessage(`"nope"`)}
	assert.ErrorIs(t, m.Apply(bad), types.ErrMalformedMessage)

	unknown := &types.SyncMessage{Type: "PIN", SenderID: "p", Sequence: 1, Payload: json.RawMessage(`{}`)}
	assert.ErrorIs(t, m.Apply(unknown), types.ErrUnknownMessageType)
}

// TestManager_ApplyConcurrentFields 并发修改不同字段时互不覆盖
func TestManager_ApplyConcurrentFields(t *testing.T) {
	for round := 0; round < 50; round++ {
		m, _ := newTestManager(t, "tab-1")
		require.NoError(t, m.Add(overlay("o")))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Apply(msg(t, types.MessageUpdatePosition, 1, types.PositionPayload{ID: "o", Left: 500, Top: 600})))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Apply(msg(t, types.MessageUpdateSize, 2, types.SizePayload{ID: "o", Width: 800, Height: 700})))
		}()
		wg.Wait()

		o, ok := m.Get("o")
		require.True(t, ok)
		assert.Equal(t, types.Position{Left: 500, Top: 600}, o.Position, "round %d", round)
		assert.Equal(t, types.Size{Width: 800, Height: 700}, o.Size, "round %d", round)
	}
}

// TestManager_HydrateZOrderBySlot 缺少 z-index 的条目按 slot 顺序分配
func TestManager_HydrateZOrderBySlot(t *testing.T) {
	for round := 0; round < 20; round++ {
		m, _ := newTestManager(t, "tab-1")

		list := make([]*types.Overlay, 0, 6)
		for i, id := range []string{"f", "e", "d", "c", "b", "a"} {
			o := overlay(id)
			o.Slot = 6 - i
			list = append(list, o)
		}
		require.NoError(t, m.Hydrate(list))

		for slot, id := range []string{"a", "b", "c", "d", "e", "f"} {
			o, ok := m.Get(id)
			require.True(t, ok)
			assert.Equal(t, slot+1, o.Slot)
			assert.Equal(t, int64(slot+1), o.ZIndex, "round %d id %s", round, id)
		}
	}
}
