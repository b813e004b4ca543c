// Package state 实现上下文内的 overlay 状态表
//
// Manager 是渲染层唯一的数据来源，不做任何 I/O：
// 存储与广播只负责搬运快照和增量，由 Manager 应用。
//
// 所有事件在锁外发射，事件处理器可以安全地回调 Manager。
package state

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

var logger = log.Logger("core/state")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrDuplicateOverlay overlay 已存在
	ErrDuplicateOverlay = errors.New("state: overlay already exists")
)

// ============================================================================
//                              Manager
// ============================================================================

// Manager overlay 状态表
type Manager struct {
	mu sync.RWMutex

	overlays  map[string]*types.Overlay
	contextID string

	// defaultContainer 未指定容器时填充
	defaultContainer string

	// zCounter 单调递增的 z-order 计数器
	zCounter int64

	bus   pkgif.EventBus
	clock clock.Clock
}

// NewManager 创建状态表
func NewManager(bus pkgif.EventBus, contextID, defaultContainer string, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if defaultContainer == "" {
		defaultContainer = types.DefaultContainerID
	}
	return &Manager{
		overlays:         make(map[string]*types.Overlay),
		contextID:        contextID,
		defaultContainer: defaultContainer,
		bus:              bus,
		clock:            clk,
	}
}

// ContextID 返回当前上下文 ID
func (m *Manager) ContextID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contextID
}

// SetContextID 设置当前上下文 ID（影响 GetVisible）
func (m *Manager) SetContextID(id string) {
	m.mu.Lock()
	m.contextID = id
	m.mu.Unlock()
}

// ============================================================================
//                              增删改
// ============================================================================

// Add 添加 overlay
//
// Slot 为 0 时分配最小未使用正整数；ZIndex 为 0 时分配 next()。
func (m *Manager) Add(o *types.Overlay) error {
	if o == nil {
		return fmt.Errorf("%w: nil overlay", types.ErrInvalidOverlay)
	}
	c := o.Clone()
	if c.ContainerID == "" {
		c.ContainerID = m.defaultContainer
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.clock.Now()
	}
	if err := c.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.overlays[c.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateOverlay, c.ID)
	}
	if c.Slot == 0 {
		c.Slot = m.nextSlotLocked()
	}
	if c.ZIndex == 0 {
		c.ZIndex = m.nextZLocked()
	} else if c.ZIndex > m.zCounter {
		m.zCounter = c.ZIndex
	}
	m.overlays[c.ID] = c
	ev := types.StateEvent{Overlay: c.Clone()}
	m.mu.Unlock()

	logger.Debug("添加 overlay", "id", c.ID, "slot", c.Slot, "container", c.ContainerID)
	m.emit(types.EventStateAdded, ev)
	return nil
}

// Update 替换已有 overlay
//
// 未提供的 Slot / ZIndex / CreatedAt 沿用旧值。
func (m *Manager) Update(o *types.Overlay) error {
	if o == nil {
		return fmt.Errorf("%w: nil overlay", types.ErrInvalidOverlay)
	}
	c := o.Clone()

	m.mu.Lock()
	old, ok := m.overlays[c.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrOverlayNotFound, c.ID)
	}
	if c.Slot == 0 {
		c.Slot = old.Slot
	}
	if c.ZIndex == 0 {
		c.ZIndex = old.ZIndex
	} else if c.ZIndex > m.zCounter {
		m.zCounter = c.ZIndex
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = old.CreatedAt
	}
	if c.ContainerID == "" {
		c.ContainerID = old.ContainerID
	}
	if err := c.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.overlays[c.ID] = c
	ev := types.StateEvent{Overlay: c.Clone()}
	m.mu.Unlock()

	m.emit(types.EventStateUpdated, ev)
	return nil
}

// modify 在同一次加锁内完成 读取副本 -> 修改 -> 校验 -> 替换
//
// 并发修改同一 overlay 的不同字段时不会互相覆盖。
func (m *Manager) modify(id string, fn func(*types.Overlay) error) error {
	m.mu.Lock()
	old, ok := m.overlays[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrOverlayNotFound, id)
	}
	c := old.Clone()
	if err := fn(c); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := c.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	if c.ZIndex > m.zCounter {
		m.zCounter = c.ZIndex
	}
	m.overlays[id] = c
	ev := types.StateEvent{Overlay: c.Clone()}
	m.mu.Unlock()

	m.emit(types.EventStateUpdated, ev)
	return nil
}

// Delete 删除 overlay，其 slot 立即可被复用
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	old, ok := m.overlays[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrOverlayNotFound, id)
	}
	delete(m.overlays, id)
	m.mu.Unlock()

	logger.Debug("删除 overlay", "id", id, "slot", old.Slot)
	m.emit(types.EventStateDeleted, types.StateEvent{Overlay: old})
	return nil
}

// Hydrate 原子替换整张表
//
// 任一 overlay 不合法时整张表保持不变。
func (m *Manager) Hydrate(list []*types.Overlay) error {
	next := make(map[string]*types.Overlay, len(list))
	var maxZ int64
	for _, o := range list {
		if o == nil {
			return fmt.Errorf("%w: nil overlay", types.ErrInvalidOverlay)
		}
		c := o.Clone()
		if c.ContainerID == "" {
			c.ContainerID = m.defaultContainer
		}
		if err := c.Validate(); err != nil {
			return err
		}
		next[c.ID] = c
		if c.ZIndex > maxZ {
			maxZ = c.ZIndex
		}
	}

	m.mu.Lock()
	m.overlays = next
	for _, c := range sortedBySlot(next) {
		if c.Slot == 0 {
			c.Slot = m.nextSlotLocked()
		}
	}
	if maxZ > m.zCounter {
		m.zCounter = maxZ
	}
	// 缺少 z-order 的 overlay 按 slot 顺序叠放
	for _, c := range sortedBySlot(next) {
		if c.ZIndex == 0 {
			c.ZIndex = m.nextZLocked()
		}
	}
	snapshot := cloneSorted(next)
	m.mu.Unlock()

	logger.Debug("状态表已水合", "count", len(snapshot))
	m.emit(types.EventStateHydrated, types.StateEvent{Overlays: snapshot})
	return nil
}

// Clear 清空状态表
func (m *Manager) Clear() {
	m.mu.Lock()
	m.overlays = make(map[string]*types.Overlay)
	m.mu.Unlock()

	m.emit(types.EventStateCleared, types.StateEvent{})
}

// ============================================================================
//                              查询
// ============================================================================

// Get 获取 overlay 副本
func (m *Manager) Get(id string) (*types.Overlay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overlays[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Has 是否存在
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.overlays[id]
	return ok
}

// Count overlay 数量
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.overlays)
}

// GetAll 按 slot 排序返回全部 overlay 副本
func (m *Manager) GetAll() []*types.Overlay {
	return m.filter(func(*types.Overlay) bool { return true })
}

// GetVisible 当前上下文中可见的 overlay
//
// 最小化的 overlay 不在结果中；mute 优先于 solo。
func (m *Manager) GetVisible() []*types.Overlay {
	ctxID := m.ContextID()
	return m.filter(func(o *types.Overlay) bool {
		return !o.Minimized && o.VisibleIn(ctxID)
	})
}

// GetMinimized 最小化的 overlay
func (m *Manager) GetMinimized() []*types.Overlay {
	return m.filter(func(o *types.Overlay) bool { return o.Minimized })
}

// GetByContainer 指定容器中的 overlay
func (m *Manager) GetByContainer(containerID string) []*types.Overlay {
	return m.filter(func(o *types.Overlay) bool { return o.ContainerID == containerID })
}

// ============================================================================
//                              Z-order 与清理
// ============================================================================

// BringToFront 将 overlay 置顶，返回新的 z-index
//
// 只修改目标 overlay，不重新归一化其它 overlay。
func (m *Manager) BringToFront(id string) (int64, error) {
	m.mu.Lock()
	o, ok := m.overlays[id]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", types.ErrOverlayNotFound, id)
	}
	o.ZIndex = m.nextZLocked()
	z := o.ZIndex
	ev := types.StateEvent{Overlay: o.Clone()}
	m.mu.Unlock()

	m.emit(types.EventStateZOrder, ev)
	return z, nil
}

// CleanupDeadTabs 从所有 solo/mute 集合中移除不在 live 中的上下文 ID
//
// 返回被修改的 overlay 数量。
func (m *Manager) CleanupDeadTabs(live []string) int {
	alive := make(map[string]struct{}, len(live))
	for _, id := range live {
		alive[id] = struct{}{}
	}
	dead := func(id string) bool {
		_, ok := alive[id]
		return !ok
	}

	m.mu.Lock()
	var changed []types.StateEvent
	for _, o := range sortedBySlot(m.overlays) {
		solo := slices.DeleteFunc(slices.Clone(o.SoloedOn), dead)
		mute := slices.DeleteFunc(slices.Clone(o.MutedOn), dead)
		if len(solo) == len(o.SoloedOn) && len(mute) == len(o.MutedOn) {
			continue
		}
		o.SoloedOn = nilIfEmpty(solo)
		o.MutedOn = nilIfEmpty(mute)
		changed = append(changed, types.StateEvent{Overlay: o.Clone()})
	}
	m.mu.Unlock()

	for _, ev := range changed {
		m.emit(types.EventStateUpdated, ev)
	}
	if len(changed) > 0 {
		logger.Info("清理失效上下文", "overlays", len(changed), "live", len(live))
	}
	return len(changed)
}

// ============================================================================
//                              内部方法
// ============================================================================

// nextZLocked z-order 计数器 next()
func (m *Manager) nextZLocked() int64 {
	m.zCounter++
	return m.zCounter
}

// nextSlotLocked 最小未使用正整数
func (m *Manager) nextSlotLocked() int {
	used := make(map[int]struct{}, len(m.overlays))
	for _, o := range m.overlays {
		if o.Slot > 0 {
			used[o.Slot] = struct{}{}
		}
	}
	for slot := 1; ; slot++ {
		if _, ok := used[slot]; !ok {
			return slot
		}
	}
}

func (m *Manager) filter(pred func(*types.Overlay) bool) []*types.Overlay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Overlay, 0, len(m.overlays))
	for _, o := range sortedBySlot(m.overlays) {
		if pred(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (m *Manager) emit(topic string, ev types.StateEvent) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(topic, ev)
}

// sortedBySlot 按 (slot, id) 排序，slot 为 0 的排在最后
func sortedBySlot(set map[string]*types.Overlay) []*types.Overlay {
	out := make([]*types.Overlay, 0, len(set))
	for _, o := range set {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Slot == 0) != (b.Slot == 0) {
			return b.Slot == 0
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.ID < b.ID
	})
	return out
}

func cloneSorted(set map[string]*types.Overlay) []*types.Overlay {
	return types.CloneOverlays(sortedBySlot(set))
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
