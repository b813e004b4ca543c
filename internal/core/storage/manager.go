package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/circuit"
	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
	"github.com/dep2p/go-quicktabs/internal/core/storage/kv"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

var logger = log.Logger("core/storage")

// 断路器资源名
const (
	ResourceStorageWrite = "storage-write"
	ResourceTransaction  = "coordinator-transaction"
)

// PendingSave 一次尚未观察到回声的写入
type PendingSave struct {
	SaveID    string
	CreatedAt time.Time
}

// ============================================================================
//                              Manager
// ============================================================================

// Manager 存储管理器
type Manager struct {
	mu sync.Mutex

	cfg     config.StorageConfig
	eng     engine.InternalEngine
	bus     pkgif.EventBus
	clock   clock.Clock
	metrics *metrics.Metrics

	containers *kv.Store
	broadcasts *kv.Store

	source      pkgif.StateSource
	containerID string

	// pending 以 saveID 为键的待确认写入
	pending map[string]PendingSave

	writeBreaker *circuit.Breaker
	txBreaker    *TransactionBreaker

	// 去抖
	debounceTimer *clock.Timer
	latest        *types.StorageChangedEvent

	cancelWatch func()
	bcWriter    string
	bcCounter   uint64
	running     bool
}

// NewManager 创建存储管理器
func NewManager(cfg config.StorageConfig, eng engine.InternalEngine, bus pkgif.EventBus, containerID string, clk clock.Clock, m *metrics.Metrics) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if containerID == "" {
		containerID = types.DefaultContainerID
	}

	mgr := &Manager{
		cfg:         cfg,
		eng:         eng,
		bus:         bus,
		clock:       clk,
		metrics:     m,
		containers:  kv.New(eng, []byte(ContainerPrefix)),
		broadcasts:  kv.New(eng, []byte(BroadcastPrefix)),
		containerID: containerID,
		pending:     make(map[string]PendingSave),
		bcWriter:    newWriterTag(),
		writeBreaker: circuit.New(circuit.Config{
			Name:             ResourceStorageWrite,
			FailureThreshold: cfg.WriteFailureThreshold,
			SuccessThreshold: cfg.WriteSuccessThreshold,
			Cooldown:         cfg.WriteCooldown.Duration(),
			HalfOpenProbes:   1,
		}, clk),
		txBreaker: NewTransactionBreaker(
			cfg.TransactionFailureThreshold,
			config.Durations(cfg.TransactionTimeoutBackoff),
			cfg.TransactionResetAfter.Duration(),
			clk,
		),
	}

	mgr.writeBreaker.OnStateChange(func(from, to circuit.State) {
		m.SetBreakerState(ResourceStorageWrite, int(to))
		mgr.emit(types.EventCircuitChanged, types.CircuitChangedEvent{
			Resource: ResourceStorageWrite, From: from.String(), To: to.String(),
		})
	})
	mgr.txBreaker.OnChange(func(from, to TxMode) {
		if to == TxTripped {
			logger.Warn("协调器事务断路器跳闸，进入回退模式", "from", from.String())
		}
		m.SetBreakerState(ResourceTransaction, int(to))
		mgr.emit(types.EventCircuitChanged, types.CircuitChangedEvent{
			Resource: ResourceTransaction, From: from.String(), To: to.String(),
		})
	})

	return mgr
}

// SetStateSource 设置权威状态来源（协调器）
func (m *Manager) SetStateSource(src pkgif.StateSource) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 开始观察存储变更
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.cancelWatch = m.containers.Watch(m.handleChange)
	m.running = true
	logger.Debug("存储管理器已启动", "container", m.containerID)
	return nil
}

// Stop 停止观察并丢弃未发出的去抖通知
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	if m.cancelWatch != nil {
		m.cancelWatch()
		m.cancelWatch = nil
	}
	m.stopDebounceLocked()
	return nil
}

// ContainerID 当前容器
func (m *Manager) ContainerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containerID
}

// SetContainer 切换容器，清空待确认写入与去抖状态
func (m *Manager) SetContainer(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if containerID == m.containerID {
		return
	}
	m.containerID = containerID
	m.pending = make(map[string]PendingSave)
	m.stopDebounceLocked()
}

// ============================================================================
//                              读写
// ============================================================================

// Save 写入当前容器的完整 overlay 列表，返回 saveID
//
// 写入前登记 PendingSave，自己的变更通知会被忽略。
func (m *Manager) Save(overlays []*types.Overlay) (string, error) {
	if err := m.writeBreaker.Allow(); err != nil {
		return "", fmt.Errorf("%w: retry after %s", ErrCircuitOpen, m.writeBreaker.RetryAt().Sub(m.clock.Now()))
	}

	saveID := uuid.NewString()
	now := m.clock.Now()

	m.mu.Lock()
	container := m.containerID
	m.pending[saveID] = PendingSave{SaveID: saveID, CreatedAt: now}
	m.mu.Unlock()

	data, err := EncodeContainerRecord(&ContainerRecord{
		Overlays:   types.CloneOverlays(overlays),
		LastUpdate: now.UnixMilli(),
		SaveID:     saveID,
	})
	if err == nil {
		err = m.containers.Put([]byte(container), data)
	}
	if err != nil {
		m.mu.Lock()
		delete(m.pending, saveID)
		m.mu.Unlock()

		m.writeBreaker.RecordFailure()
		m.metrics.RecordStorageWriteFailure()
		logger.Warn("存储写入失败", "container", container, "failures", m.writeBreaker.Failures(), "error", err)
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	m.writeBreaker.RecordSuccess()
	return saveID, nil
}

// LoadAll 加载当前容器的全部 overlay
//
// 优先询问协调器（权威），失败时直接读存储，两者都失败返回空列表。
func (m *Manager) LoadAll(ctx context.Context) []*types.Overlay {
	m.mu.Lock()
	src := m.source
	container := m.containerID
	m.mu.Unlock()

	if src != nil && m.txBreaker.Allow() {
		overlays, err := src.FullState(ctx, container)
		if err == nil {
			m.txBreaker.RecordSuccess()
			return filterContainer(overlays, container)
		}
		if isTimeout(err) {
			m.txBreaker.RecordTimeout()
		} else {
			m.txBreaker.RecordFailure()
		}
		logger.Warn("协调器全量查询失败，回退到存储", "container", container,
			"mode", m.txBreaker.Mode().String(), "error", err)
	}

	rec, err := m.readRecord(container)
	if err != nil {
		if !engine.IsNotFound(err) {
			logger.Warn("读取存储失败，返回空列表", "container", container, "error", err)
		}
		return []*types.Overlay{}
	}
	return filterContainer(rec.Overlays, container)
}

// Delete 从当前容器记录中删除一个 overlay
func (m *Manager) Delete(id string) error {
	container := m.ContainerID()
	rec, err := m.readRecord(container)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil
		}
		return err
	}

	kept := make([]*types.Overlay, 0, len(rec.Overlays))
	for _, o := range rec.Overlays {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	if len(kept) == len(rec.Overlays) {
		return nil
	}
	_, err = m.Save(kept)
	return err
}

// Clear 清空当前容器的记录与回退记录
func (m *Manager) Clear() error {
	if _, err := m.Save(nil); err != nil {
		return err
	}
	container := m.ContainerID()
	keys, err := m.broadcastKeys(container)
	if err != nil {
		return err
	}
	return m.broadcasts.DeleteKeys(keys)
}

// ============================================================================
//                              诊断
// ============================================================================

// WriteBreakerState 存储写断路器状态
func (m *Manager) WriteBreakerState() circuit.State {
	return m.writeBreaker.State()
}

// TransactionMode 事务断路器模式
func (m *Manager) TransactionMode() TxMode {
	return m.txBreaker.Mode()
}

// PendingSaves 当前未过期的待确认写入数
func (m *Manager) PendingSaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked()
	return len(m.pending)
}

// ============================================================================
//                              变更处理
// ============================================================================

// handleChange 引擎变更回调（在写入者 goroutine 中同步执行）
func (m *Manager) handleChange(ch pkgif.StoreChange) {
	if ev := m.acceptChange(ch); ev != nil {
		m.emit(types.EventStorageChanged, *ev)
	}
}

// acceptChange 过滤变更；返回非 nil 时需立即发出（去抖关闭）
func (m *Manager) acceptChange(ch pkgif.StoreChange) *types.StorageChangedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || string(ch.Key) != m.containerID {
		return nil
	}

	ev := &types.StorageChangedEvent{ContainerID: m.containerID, Overlays: []*types.Overlay{}}
	if !ch.Deleted {
		rec, err := DecodeContainerRecord(ch.Value)
		if err != nil {
			logger.Warn("忽略无法解码的存储变更", "container", m.containerID, "error", err)
			return nil
		}
		ev.Overlays = filterContainer(rec.Overlays, m.containerID)
		ev.LastUpdate = rec.LastUpdate
		ev.SaveID = rec.SaveID
	}

	m.purgeExpiredLocked()

	if ev.SaveID != "" {
		if _, ok := m.pending[ev.SaveID]; ok {
			// 自己的回声：释放并忽略，尚未发出的更早变更已被覆盖
			delete(m.pending, ev.SaveID)
			m.stopDebounceLocked()
			m.metrics.RecordSuppressedChange()
			return nil
		}
	} else if len(m.pending) > 0 {
		// 有写入待确认时忽略裸变更
		m.metrics.RecordSuppressedChange()
		logger.Debug("忽略裸存储变更", "container", m.containerID, "pending", len(m.pending))
		return nil
	}

	m.latest = ev
	window := m.cfg.ChangeDebounce.Duration()
	if window <= 0 {
		m.latest = nil
		return ev
	}
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceTimer = m.clock.AfterFunc(window, m.flush)
	return nil
}

// flush 去抖窗口结束，发出最新快照
func (m *Manager) flush() {
	m.mu.Lock()
	ev := m.latest
	m.latest = nil
	m.debounceTimer = nil
	running := m.running
	m.mu.Unlock()

	if ev == nil || !running {
		return
	}
	m.emit(types.EventStorageChanged, *ev)
}

// purgeExpiredLocked 移除超过宽限窗口的 PendingSave
func (m *Manager) purgeExpiredLocked() {
	grace := m.cfg.SaveGrace.Duration()
	now := m.clock.Now()
	for id, p := range m.pending {
		if now.Sub(p.CreatedAt) >= grace {
			delete(m.pending, id)
		}
	}
}

func (m *Manager) stopDebounceLocked() {
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	m.latest = nil
}

func (m *Manager) readRecord(container string) (*ContainerRecord, error) {
	data, err := m.containers.Get([]byte(container))
	if err != nil {
		return nil, err
	}
	return DecodeContainerRecord(data)
}

func (m *Manager) emit(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(topic, payload)
}

// filterContainer 只保留属于 container 的 overlay（容器字段为空视为属于当前容器）
func filterContainer(list []*types.Overlay, container string) []*types.Overlay {
	out := make([]*types.Overlay, 0, len(list))
	for _, o := range list {
		if o == nil {
			continue
		}
		if o.ContainerID != "" && o.ContainerID != container {
			continue
		}
		c := o.Clone()
		c.ContainerID = container
		out = append(out, c)
	}
	return out
}
