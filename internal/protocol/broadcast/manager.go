package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/circuit"
	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

var logger = log.Logger("protocol/broadcast")

// ResourceChannel 广播通道在断路器指标中的资源名
const ResourceChannel = "broadcast-channel"

// probeTimeout 单次通道探测超时
const probeTimeout = 2 * time.Second

// FallbackStore 存储回退传输
type FallbackStore interface {
	WriteBroadcastRecord(envelope []byte, ttl time.Duration) (string, error)
	OnBroadcastRecord(fn func(envelope []byte)) (cancel func())
	SweepBroadcastRecords(ttl time.Duration) (int, error)
}

// Stats 广播统计
type Stats struct {
	SenderID            string
	ContainerID         string
	Sequence            uint64
	SentChannel         int64
	SentFallback        int64
	SendFailures        int64
	Received            int64
	Rejected            int64
	ConsecutiveFailures int
	ReconnectAttempts   int
	Reconnecting        bool
	PermanentFallback   bool
}

// ============================================================================
//                              Manager
// ============================================================================

// Manager 广播管理器
type Manager struct {
	mu sync.Mutex

	cfg     config.BroadcastConfig
	factory pkgif.ChannelFactory
	store   FallbackStore
	bus     pkgif.EventBus
	clock   clock.Clock
	metrics *metrics.Metrics
	limiter *rate.Limiter

	senderID    string
	containerID string
	sequence    uint64

	channel             pkgif.Channel
	consecutiveFailures int
	reconnectAttempts   int
	reconnecting        bool
	reconnectTimer      *clock.Timer
	permanentFallback   bool

	// lastSeq 每个发送者最后接受的序列号
	lastSeq *lru.Cache[string, uint64]
	// recent (sender, type, overlay) -> 最近一次接受时间
	recent *lru.Cache[string, time.Time]

	cancelFallback func()
	probeTicker    *clock.Ticker
	sweepTicker    *clock.Ticker
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	running        bool

	stats Stats
}

// NewManager 创建广播管理器
//
// store 为 nil 时没有回退传输。
func NewManager(cfg config.BroadcastConfig, factory pkgif.ChannelFactory, store FallbackStore,
	bus pkgif.EventBus, senderID, containerID string, clk clock.Clock, m *metrics.Metrics) (*Manager, error) {
	if clk == nil {
		clk = clock.New()
	}
	if containerID == "" {
		containerID = types.DefaultContainerID
	}

	lastSeq, err := lru.New[string, uint64](cfg.SequenceTableSize)
	if err != nil {
		return nil, fmt.Errorf("broadcast: sequence table: %w", err)
	}
	recent, err := lru.New[string, time.Time](cfg.DebounceTableSize)
	if err != nil {
		return nil, fmt.Errorf("broadcast: debounce table: %w", err)
	}

	return &Manager{
		cfg:         cfg,
		factory:     factory,
		store:       store,
		bus:         bus,
		clock:       clk,
		metrics:     m,
		limiter:     rate.NewLimiter(rate.Limit(cfg.FallbackRateLimit), cfg.FallbackBurst),
		senderID:    senderID,
		containerID: containerID,
		lastSeq:     lastSeq,
		recent:      recent,
	}, nil
}

// SenderID 本上下文的发送者 ID
func (m *Manager) SenderID() string {
	return m.senderID
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 打开通道，订阅回退记录并启动后台探测与清扫
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(context.Background())

	var fallbackEv *types.BroadcastFallbackEvent
	if err := m.openChannelLocked(); err != nil {
		logger.Warn("打开广播通道失败，暂用存储回退", "container", m.containerID, "error", err)
		fallbackEv = m.scheduleReconnectLocked(err)
	}

	if d := m.cfg.HealthProbeInterval.Duration(); d > 0 {
		m.probeTicker = m.clock.Ticker(d)
		m.wg.Add(1)
		go m.loop(m.ctx, m.probeTicker, m.probe)
	}
	if d := m.cfg.FallbackSweepInterval.Duration(); d > 0 && m.store != nil {
		m.sweepTicker = m.clock.Ticker(d)
		m.wg.Add(1)
		go m.loop(m.ctx, m.sweepTicker, m.sweep)
	}
	m.mu.Unlock()

	if m.store != nil {
		cancel := m.store.OnBroadcastRecord(func(envelope []byte) {
			m.receive(envelope, metrics.TransportFallback)
		})
		m.mu.Lock()
		m.cancelFallback = cancel
		m.mu.Unlock()
	}

	if fallbackEv != nil {
		m.emit(types.EventBroadcastFallback, *fallbackEv)
	}
	logger.Debug("广播管理器已启动", "sender", m.senderID, "container", m.ContainerID())
	return nil
}

// Stop 停止后台任务并关闭通道
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.probeTicker != nil {
		m.probeTicker.Stop()
	}
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	cancelFallback := m.cancelFallback
	m.cancelFallback = nil
	ch := m.channel
	m.channel = nil
	m.mu.Unlock()

	if cancelFallback != nil {
		cancelFallback()
	}
	m.wg.Wait()

	var err error
	if ch != nil {
		err = multierr.Append(err, ch.Close())
	}
	return err
}

// ============================================================================
//                              发送
// ============================================================================

// Broadcast 向同容器的其它上下文广播一条增量
//
// 优先使用广播通道；通道失败或不可用时写入存储回退记录。
// 仅当两种传输都失败时返回错误。
func (m *Manager) Broadcast(ctx context.Context, msgType types.MessageType, data any) error {
	if !msgType.Valid() {
		return fmt.Errorf("%w: %s", types.ErrUnknownMessageType, msgType)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedMessage, err)
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.sequence++
	msg := &types.SyncMessage{
		Type:        msgType,
		Payload:     payload,
		SenderID:    m.senderID,
		Sequence:    m.sequence,
		ContainerID: m.containerID,
		Timestamp:   m.clock.Now().UnixMilli(),
	}
	ch := m.channel
	useChannel := ch != nil && !m.reconnecting && !m.permanentFallback
	m.mu.Unlock()

	envelope, err := types.EncodeMessage(msg)
	if err != nil {
		return err
	}

	if useChannel {
		perr := ch.Publish(ctx, envelope)
		if perr == nil {
			m.mu.Lock()
			m.consecutiveFailures = 0
			m.stats.SentChannel++
			m.mu.Unlock()
			m.metrics.RecordSent(metrics.TransportChannel)
			return nil
		}
		m.onSendFailure(perr)
	}
	return m.sendFallback(envelope)
}

// sendFallback 写入存储回退记录
func (m *Manager) sendFallback(envelope []byte) error {
	if m.store == nil {
		return ErrNoTransport
	}
	if !m.limiter.AllowN(m.clock.Now(), 1) {
		logger.Debug("回退传输被限流")
		return ErrRateLimited
	}
	if _, err := m.store.WriteBroadcastRecord(envelope, m.cfg.FallbackTTL.Duration()); err != nil {
		return fmt.Errorf("%w: %v", ErrNoTransport, err)
	}
	m.mu.Lock()
	m.stats.SentFallback++
	m.mu.Unlock()
	m.metrics.RecordSent(metrics.TransportFallback)
	return nil
}

// onSendFailure 记录一次通道发送失败
func (m *Manager) onSendFailure(err error) {
	m.mu.Lock()
	m.consecutiveFailures++
	m.stats.SendFailures++
	n := m.consecutiveFailures
	var fallbackEv *types.BroadcastFallbackEvent
	if n >= m.cfg.SendFailureThreshold {
		fallbackEv = m.scheduleReconnectLocked(err)
	}
	m.mu.Unlock()

	logger.Warn("广播发送失败", "failures", n, "error", err)
	m.emit(types.EventBroadcastError, types.BroadcastErrorEvent{Err: err, ConsecutiveFailures: n})
	if fallbackEv != nil {
		m.emit(types.EventBroadcastFallback, *fallbackEv)
	}
}

// ============================================================================
//                              诊断
// ============================================================================

// Stats 返回统计快照
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.SenderID = m.senderID
	s.ContainerID = m.containerID
	s.Sequence = m.sequence
	s.ConsecutiveFailures = m.consecutiveFailures
	s.ReconnectAttempts = m.reconnectAttempts
	s.Reconnecting = m.reconnecting
	s.PermanentFallback = m.permanentFallback
	return s
}

// ContainerID 当前容器
func (m *Manager) ContainerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containerID
}

// UsingFallback 当前是否只能使用存储回退
func (m *Manager) UsingFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel == nil || m.reconnecting || m.permanentFallback
}

// ============================================================================
//                              内部
// ============================================================================

func (m *Manager) channelName(containerID string) string {
	return m.cfg.ChannelPrefix + "-" + containerID
}

func (m *Manager) openChannelLocked() error {
	ch, err := m.factory.Open(m.channelName(m.containerID), func(data []byte) {
		m.receive(data, metrics.TransportChannel)
	})
	if err != nil {
		return err
	}
	m.channel = ch
	m.metrics.SetBreakerState(ResourceChannel, int(circuit.StateClosed))
	return nil
}

func (m *Manager) closeChannelLocked() {
	if m.channel == nil {
		return
	}
	if err := m.channel.Close(); err != nil {
		logger.Debug("关闭广播通道失败", "error", err)
	}
	m.channel = nil
}

func (m *Manager) emit(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(topic, payload)
}

func (m *Manager) loop(ctx context.Context, t *clock.Ticker, fn func()) {
	defer m.wg.Done()
	for {
		select {
		case <-t.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}
